package txn

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newKey(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, AddressOf(pub)
}

func grantTx(owner string) Transaction {
	return Transaction{
		Kind: KindGrant, Sender: owner, PermissionID: "p-1", Spender: "0xb0b",
		Amount: 100, Expiry: now.Add(time.Hour).Unix(), Scope: permission.ScopeView,
		Nonce: "n-1", IssuedAt: now.Unix(),
	}
}

func TestHash_StableAndSensitive(t *testing.T) {
	tx := grantTx("0xa11ce")

	h1, err := tx.Hash()
	require.NoError(t, err)
	h2, err := tx.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 66)

	tx.Nonce = "n-2"
	h3, err := tx.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	key, addr := newKey(t)
	tx := grantTx(addr)
	tx.Amount = 1<<63 + 5

	token, err := Sign(tx, key, now)
	require.NoError(t, err)

	got, err := Verify(token, func() time.Time { return now.Add(time.Minute) })
	require.NoError(t, err)
	assert.Equal(t, tx, got)
}

func TestSign_RejectsForeignSender(t *testing.T) {
	key, _ := newKey(t)
	_, err := Sign(grantTx("0xa11ce"), key, now)
	require.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestVerify_Failures(t *testing.T) {
	key, addr := newKey(t)
	token, err := Sign(grantTx(addr), key, now)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		_, err := Verify(token, func() time.Time { return now.Add(Validity + time.Minute) })
		require.ErrorIs(t, err, common.ErrInvalidSignature)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := token[:len(token)-4] + "AAAA"
		_, err := Verify(tampered, func() time.Time { return now })
		require.ErrorIs(t, err, common.ErrInvalidSignature)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Verify("not-a-token", nil)
		require.ErrorIs(t, err, common.ErrInvalidSignature)
	})
}

func TestExecute_Grant(t *testing.T) {
	rules := Rules{}
	tx := grantTx("0xA11CE")
	tx.Resource = &permission.Resource{Name: "a.txt", Size: 3}

	r, err := rules.Execute(tx, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "0xa11ce", r.Owner)
	assert.Equal(t, "0xb0b", r.Spender)
	assert.EqualValues(t, 100, r.Amount)
	assert.True(t, r.Expiry.Equal(now.Add(time.Hour)))
	assert.Equal(t, "a.txt", r.Resource.Name)

	_, err = rules.Execute(tx, &r, now)
	reason, ok := RejectionReason(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAlreadyExists, reason)

	bad := grantTx("0xa11ce")
	bad.Amount = 0
	_, err = rules.Execute(bad, nil, now)
	require.ErrorIs(t, err, permission.ErrInvalidAmount)

	bad = grantTx("0xa11ce")
	bad.Scope = "owner"
	_, err = rules.Execute(bad, nil, now)
	require.ErrorIs(t, err, permission.ErrInvalidScope)
}

func TestExecute_SpendRevokeExtend(t *testing.T) {
	rules := Rules{AllowExtend: true}
	r, err := rules.Execute(grantTx("0xa11ce"), nil, now)
	require.NoError(t, err)

	spend := Transaction{Kind: KindSpend, Sender: "0xb0b", PermissionID: "p-1", Amount: 60, Recipient: "0xc0ffee"}
	r, err = rules.Execute(spend, &r, now)
	require.NoError(t, err)
	assert.EqualValues(t, 60, r.Spent)

	spend.Amount = 50
	_, err = rules.Execute(spend, &r, now)
	require.ErrorIs(t, err, permission.ErrInsufficientAllowance)

	spend.Sender = "0xa11ce"
	spend.Amount = 1
	_, err = rules.Execute(spend, &r, now)
	require.ErrorIs(t, err, permission.ErrNotAuthorized)

	extend := Transaction{Kind: KindExtend, Sender: "0xa11ce", PermissionID: "p-1", Expiry: now.Add(2 * time.Hour).Unix()}
	r, err = rules.Execute(extend, &r, now)
	require.NoError(t, err)
	assert.True(t, r.Expiry.Equal(now.Add(2*time.Hour)))

	revoke := Transaction{Kind: KindRevoke, Sender: "0xa11ce", PermissionID: "p-1"}
	r, err = rules.Execute(revoke, &r, now)
	require.NoError(t, err)
	assert.True(t, r.Revoked)

	_, err = rules.Execute(revoke, &r, now)
	require.ErrorIs(t, err, permission.ErrAlreadyRevoked)

	spend = Transaction{Kind: KindSpend, Sender: "0xb0b", PermissionID: "p-1", Amount: 1}
	_, err = rules.Execute(spend, &r, now)
	require.ErrorIs(t, err, permission.ErrPermissionRevoked)
}

func TestExecute_Rejections(t *testing.T) {
	rules := Rules{}
	r, err := rules.Execute(grantTx("0xa11ce"), nil, now)
	require.NoError(t, err)

	cases := []struct {
		name string
		tx   Transaction
		cur  *permission.Record
		want string
	}{
		{name: "unknown id", tx: Transaction{Kind: KindSpend, Sender: "0xb0b", PermissionID: "nope", Amount: 1}, want: ReasonNotFound},
		{name: "missing id", tx: Transaction{Kind: KindRevoke, Sender: "0xa11ce"}, want: ReasonMalformed},
		{name: "bad sender", tx: Transaction{Kind: KindRevoke, Sender: "alice", PermissionID: "p-1"}, cur: &r, want: ReasonMalformed},
		{name: "extend disabled", tx: Transaction{Kind: KindExtend, Sender: "0xa11ce", PermissionID: "p-1"}, cur: &r, want: ReasonUnsupported},
		{name: "access is not executable", tx: Transaction{Kind: KindAccess, Sender: "0xb0b", PermissionID: "p-1"}, cur: &r, want: ReasonUnsupported},
		{name: "bad recipient", tx: Transaction{Kind: KindSpend, Sender: "0xb0b", PermissionID: "p-1", Amount: 1, Recipient: "x"}, cur: &r, want: ReasonMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rules.Execute(tc.tx, tc.cur, now)
			reason, ok := RejectionReason(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, tc.want, reason)
		})
	}
}

func TestExecute_DoesNotMutateInput(t *testing.T) {
	rules := Rules{}
	r, err := rules.Execute(grantTx("0xa11ce"), nil, now)
	require.NoError(t, err)

	_, err = rules.Execute(Transaction{Kind: KindSpend, Sender: "0xb0b", PermissionID: "p-1", Amount: 10}, &r, now)
	require.NoError(t, err)
	assert.Zero(t, r.Spent)
}
