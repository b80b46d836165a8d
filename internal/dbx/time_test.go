package dbx

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeConversions(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.FixedZone("X", 3600))

	assert.True(t, at.Equal(ParseTime(Time(at))))
	assert.Equal(t, time.UTC, ParseTime(Time(at)).Location())

	assert.Equal(t, sql.NullInt64{}, NullTime(nil))
	assert.Nil(t, ParseNullTime(sql.NullInt64{}))

	got := ParseNullTime(NullTime(&at))
	if assert.NotNil(t, got) {
		assert.True(t, at.Equal(*got))
	}
}
