package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/metrics"
)

// runHeartbeat polls validate_account on an interval, doubling it as a
// connectivity heartbeat and feeding the account equity gauge.
func runHeartbeat(ctx context.Context, bro broker.Broker) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := bro.ValidateAccount(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("heartbeat: validate_account failed")
				continue
			}
			f, _ := snapshot.Equity.Float64()
			metrics.AccountEquity.Set(f)
		}
	}
}
