package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/stay-revenue/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 4, cfg.ReconMaxGroup)
	require.False(t, cfg.IsProduction())

	fee := cfg.ProcessorFee()
	require.False(t, fee.Enabled)
	require.True(t, decimal.RequireFromString("0.029").Equal(fee.Rate))
	require.True(t, decimal.RequireFromString("0.30").Equal(fee.Fixed))
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]Config{
		"no webhook secret":  {OperatorToken: "t"},
		"no operator token":  {WebhookSecret: "s"},
		"negative fee rate":  {WebhookSecret: "s", OperatorToken: "t", RevenueProcessorRate: decimal.NewFromInt(-1)},
		"negative job retry": {WebhookSecret: "s", OperatorToken: "t", JobMaxRetry: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}

	ok := Config{WebhookSecret: "s", OperatorToken: "t", SyncConcurrency: 1, ReconMaxGroup: 2, ReconMaxCandidates: 1}
	require.NoError(t, ok.Validate())
}
