package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubunitsRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		amount float64
		want   int64
	}{
		{0, 0},
		{0.29, 29},
		{1.15, 115},
		{19.99, 1999},
		{100, 10000},
		{16000, 1600000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, subunits(tc.amount), "amount %v", tc.amount)
	}
}

func TestSubunitsExactForAllTwoDecimalAmounts(t *testing.T) {
	// Every representable two-decimal amount up to 20,000.00 must survive the
	// float64 round trip without losing a paisa.
	for want := int64(0); want <= 2_000_000; want++ {
		amount := float64(want) / 100
		if got := subunits(amount); got != want {
			t.Fatalf("subunits(%v) = %d, want %d", amount, got, want)
		}
	}
}

func TestVerifyPayment(t *testing.T) {
	c := &client{keySecret: "secret"}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("order_1|pay_1"))
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifyPayment("order_1", "pay_1", sig))
	assert.False(t, c.VerifyPayment("order_1", "pay_2", sig))
	assert.False(t, c.VerifyPayment("order_1", "pay_1", "bad"))
	assert.False(t, c.VerifyPayment("", "pay_1", sig))
}
