package bot

import (
	"testing"

	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0.00", formatMoney(0))
	assert.Equal(t, "0.05", formatMoney(5))
	assert.Equal(t, "499.90", formatMoney(49990))
	assert.Equal(t, "-12.30", formatMoney(-1230))
	assert.Equal(t, "+1.00", formatSigned(100))
	assert.Equal(t, "-1.00", formatSigned(-100))
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "50", want: 5000},
		{in: " 12.5 ", want: 1250},
		{in: "0.01", want: 1},
		{in: "1.005", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "ten", wantErr: true},
		{in: "92233720368547758.07", want: 9223372036854775807},
		{in: "92233720368547758.08", wantErr: true},
		{in: "184467440737095517.16", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMoney(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	v, err := parseSignedMoney("-7.50")
	assert.NoError(t, err)
	assert.Equal(t, int64(-750), v)
	v, err = parseSignedMoney("+2")
	assert.NoError(t, err)
	assert.Equal(t, int64(200), v)
	_, err = parseSignedMoney("-184467440737095517.16")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
}
