package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    command
		wantErr bool
	}{
		{name: "sync all", args: []string{"sync"}, want: command{name: "sync", redisAddr: "127.0.0.1:6379"}},
		{
			name: "sync one listing",
			args: []string{"-redis", "redis:6379", "sync", "-product", "P-1", "-since", "2026-05-01T00:00:00Z"},
			want: command{name: "sync", redisAddr: "redis:6379", productID: "P-1", since: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
		{name: "recompute", args: []string{"recompute", "-reservation", "42"}, want: command{name: "recompute", redisAddr: "127.0.0.1:6379", reservationID: 42}},
		{name: "recompute without id", args: []string{"recompute"}, wantErr: true},
		{name: "bad since", args: []string{"sync", "-since", "yesterday"}, wantErr: true},
		{name: "unknown", args: []string{"explode"}, wantErr: true},
		{name: "empty", args: nil, wantErr: true},
	}
	t.Setenv("REDIS_ADDR", "")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgs(tc.args)
			if tc.wantErr {
				require.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRunPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"nope"}, &out)
	require.ErrorIs(t, err, errUsage)
	require.Contains(t, out.String(), "usage: jobsctl")
}
