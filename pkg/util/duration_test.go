package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/kode4food/conductor/pkg/util"
)

func TestDuration(t *testing.T) {
	d, err := util.Duration(gjson.Parse(`250`))
	assert.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = util.Duration(gjson.Parse(`"1m30s"`))
	assert.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = util.Duration(gjson.Get(`{}`, "missing"))
	assert.NoError(t, err)
	assert.Zero(t, d)

	for _, bad := range []string{`-5`, `"later"`, `"-1s"`, `true`, `{}`} {
		_, err = util.Duration(gjson.Parse(bad))
		assert.ErrorIs(t, err, util.ErrInvalidDuration, bad)
	}
}

func TestDurations(t *testing.T) {
	ds, err := util.Durations(gjson.Parse(`["1s", 500]`))
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, ds)

	ds, err = util.Durations(gjson.Parse(`"2s"`))
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, ds)

	ds, err = util.Durations(gjson.Get(`{}`, "missing"))
	assert.NoError(t, err)
	assert.Nil(t, ds)

	_, err = util.Durations(gjson.Parse(`["1s", "x"]`))
	assert.ErrorIs(t, err, util.ErrInvalidDuration)
}
