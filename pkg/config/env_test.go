package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestEnv_UnsetAndBlankUseDefault(t *testing.T) {
	env := NewEnv(mapLookup(map[string]string{"BLANK": "   "}))

	assert.Equal(t, "def", env.String("MISSING", "def"))
	assert.Equal(t, 7, env.Int("BLANK", 7))
	assert.Equal(t, time.Second, env.Duration("MISSING", time.Second))
	assert.True(t, env.Bool("MISSING", true))
	assert.Empty(t, env.Fallbacks())
}

func TestEnv_ParsesValidValues(t *testing.T) {
	env := NewEnv(mapLookup(map[string]string{
		"ADDR":    " :9090 ",
		"CONNS":   "40",
		"LIMIT":   "1048576",
		"RATE":    "0.25",
		"ENABLED": "true",
		"TIMEOUT": "90s",
		"HOSTS":   "a, b,,c ",
	}))

	assert.Equal(t, ":9090", env.String("ADDR", ":8080"))
	assert.Equal(t, 40, env.Int("CONNS", 25, ValidateIntRange(1, 100)))
	assert.Equal(t, int64(1048576), env.Int64("LIMIT", 0))
	assert.Equal(t, 0.25, env.Float("RATE", 1, ValidateFraction))
	assert.True(t, env.Bool("ENABLED", false))
	assert.Equal(t, 90*time.Second, env.Duration("TIMEOUT", time.Minute, ValidatePositiveDuration))
	assert.Equal(t, []string{"a", "b", "c"}, env.StringList("HOSTS", nil))
	assert.Empty(t, env.Fallbacks())
}

func TestEnv_MalformedValuesFallBack(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		read func(*Env) any
		want any
	}{
		{
			name: "int not a number",
			env:  map[string]string{"K": "ten"},
			read: func(e *Env) any { return e.Int("K", 10) },
			want: 10,
		},
		{
			name: "int out of range",
			env:  map[string]string{"K": "500"},
			read: func(e *Env) any { return e.Int("K", 25, ValidateIntRange(1, 100)) },
			want: 25,
		},
		{
			name: "negative duration",
			env:  map[string]string{"K": "-5s"},
			read: func(e *Env) any { return e.Duration("K", time.Minute, ValidatePositiveDuration) },
			want: time.Minute,
		},
		{
			name: "unparseable duration",
			env:  map[string]string{"K": "soon"},
			read: func(e *Env) any { return e.Duration("K", time.Minute) },
			want: time.Minute,
		},
		{
			name: "bad bool",
			env:  map[string]string{"K": "yes please"},
			read: func(e *Env) any { return e.Bool("K", false) },
			want: false,
		},
		{
			name: "fraction above one",
			env:  map[string]string{"K": "1.5"},
			read: func(e *Env) any { return e.Float("K", 1, ValidateFraction) },
			want: 1.0,
		},
		{
			name: "invalid cron",
			env:  map[string]string{"K": "every tuesday"},
			read: func(e *Env) any { return e.String("K", "@hourly", ValidateCronSchedule) },
			want: "@hourly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnv(mapLookup(tt.env))
			assert.Equal(t, tt.want, tt.read(env))

			fallbacks := env.Fallbacks()
			require.Len(t, fallbacks, 1)
			assert.Equal(t, "K", fallbacks[0].Key)
			assert.Equal(t, tt.env["K"], fallbacks[0].Value)
			assert.NotEmpty(t, fallbacks[0].Reason)
		})
	}
}

func TestEnv_SecretIsReturnedVerbatim(t *testing.T) {
	env := NewEnv(mapLookup(map[string]string{"TOKEN": "123456:abc"}))
	assert.Equal(t, "123456:abc", env.Secret("TOKEN", ""))
	assert.Empty(t, env.Fallbacks())
}

func TestEnv_FallbacksReturnsCopy(t *testing.T) {
	env := NewEnv(mapLookup(map[string]string{"K": "x"}))
	env.Int("K", 1)

	got := env.Fallbacks()
	got[0].Key = "mutated"
	assert.Equal(t, "K", env.Fallbacks()[0].Key)
}

func TestEnv_DefaultsToProcessEnvironment(t *testing.T) {
	t.Setenv("DIRECTOR_TEST_VALUE", "42")
	assert.Equal(t, 42, NewEnv(nil).Int("DIRECTOR_TEST_VALUE", 0))
}
