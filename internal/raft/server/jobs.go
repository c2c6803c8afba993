package server

import (
	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft/replica"
	"raft-log-core/internal/raft/state_machine"

	"go.uber.org/zap"
)

/*
In this file we define all Background jobs that could run in a given Server. Each job is responsible for subscribing to
ServerShutDown events in order to exit gracefully, and prevent go routine leakage.
See: https://medium.com/@srajsonu/understanding-and-preventing-goroutine-leaks-in-go-623cac542954
*/

// TrackCommitsJob logs every entry once it becomes committed and applies it to sm, if one is given. It should be
// called as a goroutine and returns on ServerShutDown or ReplicaClosed.
//
// Events are delivered non-blocking and may be dropped, so sm is always fed from its LastApplied onwards rather than
// from the event's range.
func TrackCommitsJob(ctx serverCtx, rep LogReplica, sm state_machine.StateMachine, pubSub *pubsub.PubSubClient, logger *zap.SugaredLogger) {
	committedCh := make(chan *pubsub.Event[replica.EntriesCommittedPayload], 64)
	stopJobCh := make(chan *pubsub.Event[struct{}], 1)
	closedCh := make(chan *pubsub.Event[struct{}], 1)

	committedSub := pubsub.Subscribe(pubSub, replica.EntriesCommitted, committedCh, pubsub.SubscriptionOptions{IsBlocking: false})
	stopSub := pubsub.Subscribe(pubSub, ServerShutDown, stopJobCh, pubsub.SubscriptionOptions{IsBlocking: false})
	closedSub := pubsub.Subscribe(pubSub, replica.ReplicaClosed, closedCh, pubsub.SubscriptionOptions{IsBlocking: false})
	defer func() {
		pubSub.Unsubscribe(replica.EntriesCommitted, committedSub)
		pubSub.Unsubscribe(ServerShutDown, stopSub)
		pubSub.Unsubscribe(replica.ReplicaClosed, closedSub)
	}()

	logger = logger.With("job", "TrackCommits", "addr", ctx.Addr)
	logger.Debugw("job started")

	// Catch up with whatever was committed before the subscription, e.g. on restart
	if sm != nil {
		if commitIndex := rep.Snapshot().CommitIndex; commitIndex > sm.LastApplied() {
			sm.Apply(rep.Entries(sm.LastApplied()+1, commitIndex))
			logger.Infow("state machine caught up", "lastApplied", sm.LastApplied())
		}
	}

	for {
		select {
		case ev := <-committedCh:
			from := ev.Payload.From
			if sm != nil {
				from = min(from, sm.LastApplied()+1)
			}
			entries := rep.Entries(from, ev.Payload.To)
			for _, entry := range entries {
				logger.Infow("entry committed",
					"index", entry.Index,
					"term", entry.Term,
					"bytes", len(entry.Data))
			}
			if sm != nil {
				sm.Apply(entries)
			}
		case <-stopJobCh:
			logger.Debugw("job stopped on server shutdown")
			return
		case <-closedCh:
			logger.Debugw("job stopped on replica close")
			return
		}
	}
}
