package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValid(t *testing.T) {
	s := Settings{
		"include_details": true,
		"from":            "desk@example.com",
		"rate":            2.5,
		"interval":        "30s",
		"templates":       map[string]any{"welcome": "Hi {{.Name}}"},
	}

	res := Check(s).
		Bool("include_details").
		RequiredString("from").
		PositiveNumber("rate").
		Duration("interval").
		StringMap("templates").
		Result()

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestCheckCollectsAllErrors(t *testing.T) {
	s := Settings{
		"include_details": "yes",
		"rate":            0,
		"interval":        "soon",
		"templates":       map[string]any{"welcome": 42},
	}

	res := Check(s).
		Bool("include_details").
		RequiredString("from").
		PositiveNumber("rate").
		Duration("interval").
		StringMap("templates").
		Result()

	require.False(t, res.IsValid)
	assert.Equal(t, []string{
		"include_details must be a boolean",
		"from is required",
		"rate must be a positive number",
		"interval must be a positive duration",
		"templates.welcome must be a string",
	}, res.Errors)
}

func TestCheckRange(t *testing.T) {
	s := Settings{"int": 3, "float": 31.5, "inside": 10.0, "text": "x"}
	res := Check(s).
		Range("int", 4, 31).
		Range("float", 4, 31).
		Range("inside", 4, 31).
		Range("text", 4, 31).
		Result()
	assert.Equal(t, []string{
		"int must be between 4 and 31",
		"float must be between 4 and 31",
	}, res.Errors)
}

func TestCheckAbsentOptionalKeys(t *testing.T) {
	res := Check(nil).Bool("a").String("b").PositiveNumber("c").Duration("d").StringMap("e").Range("f", 0, 1).Result()
	assert.True(t, res.IsValid)
}

func TestSettingsDecode(t *testing.T) {
	var target struct {
		From     string        `mapstructure:"from"`
		Interval time.Duration `mapstructure:"interval"`
		Burst    int           `mapstructure:"burst"`
	}
	s := Settings{"from": "desk@example.com", "interval": "1m", "burst": 3}

	require.NoError(t, s.Decode(&target))
	assert.Equal(t, "desk@example.com", target.From)
	assert.Equal(t, time.Minute, target.Interval)
	assert.Equal(t, 3, target.Burst)
}

func TestSettingsCloneIndependent(t *testing.T) {
	s := Settings{"a": 1}
	c := s.Clone()
	c["a"] = 2
	assert.Equal(t, 1, s["a"])

	var empty Settings
	assert.NotNil(t, empty.Clone())
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("misc").Valid())
}

type fakeResolver map[string]Module

func (f fakeResolver) Resolve(name string) (Module, bool) {
	m, ok := f[name]
	return m, ok
}

func TestResolveTyped(t *testing.T) {
	r := fakeResolver{"counter": 7, "label": "x"}

	n, ok := Resolve[int](r, "counter")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = Resolve[int](r, "label")
	assert.False(t, ok, "wrong type must not resolve")

	_, ok = Resolve[int](r, "missing")
	assert.False(t, ok)

	_, ok = Resolve[int](nil, "counter")
	assert.False(t, ok)
}
