// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"testing"

	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusEvent(sessionID, agentID string) protocol.AgentStatusEvent {
	return protocol.AgentStatusEvent{
		Metadata: protocol.Metadata{SessionID: sessionID, Version: protocol.CurrentProtocolVersion},
		AgentID:  agentID,
		Status:   protocol.StageRunning,
	}
}

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	d := New()
	defer d.Close()

	var order []string
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { order = append(order, "first") })
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { order = append(order, "second") })
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { order = append(order, "third") })

	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublish_TypeIsolation(t *testing.T) {
	d := New()
	defer d.Close()

	var statusCount, errorCount int
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { statusCount++ })
	d.Subscribe(protocol.MessageProcessingError, func(protocol.Event) { errorCount++ })

	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "parsing"))
	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "parsing"))

	assert.Equal(t, 2, statusCount)
	assert.Equal(t, 0, errorCount)
}

func TestPublish_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	d := New()
	defer d.Close()

	var delivered bool
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { panic("handler bug") })
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { delivered = true })

	require.NotPanics(t, func() {
		d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	})
	assert.True(t, delivered, "second handler must still receive the event")
}

func TestSubscription_Close(t *testing.T) {
	d := New()
	defer d.Close()

	var count int
	sub := d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { count++ })

	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	sub.Close()
	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, d.SubscriberCount(protocol.MessageAgentStatus))

	// Idempotent.
	assert.NotPanics(t, sub.Close)
}

func TestPublish_ZeroSubscribersLosesEvent(t *testing.T) {
	d := New()
	defer d.Close()

	// Nothing registered: must not panic, event is simply lost.
	assert.NotPanics(t, func() {
		d.Publish(protocol.MessageProcessingComplete, protocol.ProcessingCompleteEvent{
			Metadata: protocol.Metadata{SessionID: "s1"},
		})
	})

	var late int
	d.Subscribe(protocol.MessageProcessingComplete, func(protocol.Event) { late++ })
	assert.Equal(t, 0, late, "late subscriber must not see earlier events")
}

func TestClose_MakesDispatcherInert(t *testing.T) {
	d := New()

	var count int
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { count++ })
	d.Close()

	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	assert.Equal(t, 0, count)

	sub := d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { count++ })
	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	assert.Equal(t, 0, count)
	assert.NotPanics(t, sub.Close)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	d := New()
	defer d.Close()

	var second int
	var sub2 *Subscription
	d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { sub2.Close() })
	sub2 = d.Subscribe(protocol.MessageAgentStatus, func(protocol.Event) { second++ })

	// The publish snapshot was taken before the first handler ran, so the
	// second handler still fires this round but not the next.
	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	assert.Equal(t, 1, second)

	d.Publish(protocol.MessageAgentStatus, statusEvent("s1", "ingestion"))
	assert.Equal(t, 1, second)
}
