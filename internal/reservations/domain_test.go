package reservations

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
)

func TestKeyLockNamesShareConfirmationCode(t *testing.T) {
	first := Key{Channel: channels.Airbnb, ExternalID: "RTB-1", ConfirmationCode: "HM123"}
	second := Key{Channel: channels.Airbnb, ExternalID: "BP-2002", ConfirmationCode: "HM123"}

	require.Equal(t, []string{"reservation:AIRBNB/code:HM123", "reservation:AIRBNB/id:RTB-1"}, first.LockNames())
	require.Subset(t, second.LockNames(), []string{"reservation:AIRBNB/code:HM123"})
	require.NotEqual(t, first.String(), second.String())
}

func TestKeyLockNamesWithoutCode(t *testing.T) {
	k := Key{Channel: channels.Vrbo, ExternalID: "V-9"}
	require.Equal(t, []string{"reservation:VRBO/id:V-9"}, k.LockNames())

	other := Key{Channel: channels.Airbnb, ExternalID: "V-9"}
	require.NotEqual(t, k.LockNames(), other.LockNames())
}

func TestIngestionTxReadsAfterLock(t *testing.T) {
	// Repeatable read would pin the snapshot at the lock statement.
	require.Equal(t, pgx.ReadCommitted, lockingTxOptions.IsoLevel)
}
