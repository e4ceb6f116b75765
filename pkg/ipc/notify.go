package ipc

import (
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// deliverNoSenders sends the no-senders notification message on the
// armed send-once right, consuming it in the process (spec.md
// §4.3.4). Delivery failure (e.g. the notify port itself already died)
// is ignored: only successful deliveries are counted in
// kmetrics.Notifications; notifications are best-effort once their
// target is gone.
func deliverNoSenders(wq *waitqueue.Registry, sub *deadNameSub) {
	msg := &Message{Header: MessageHeader{ID: MsgIDNoSenders}}
	if err := Send(sub.space, wq, msg, sub.name, SendOptions{}); err == nil {
		kmetrics.Notifications.WithLabelValues("no-senders").Inc()
	}
}

// DestroyPort tears p down and delivers every notification its death
// owes, in one call. Exported for callers outside this package (e.g.
// pkg/task releasing a task's well-known ports) that have no other way
// to reach the unexported notification plumbing.
func DestroyPort(p *Port, wq *waitqueue.Registry) {
	death, sendOnce := p.Destroy(wq)
	deliverDeathNotifications(wq, p, death, sendOnce)
}

// deliverDeathNotifications fans out port-death/dead-name
// notifications and pending send-once-death notifications for a
// port that just finished Destroy.
func deliverDeathNotifications(wq *waitqueue.Registry, p *Port, death, sendOnce []*deadNameSub) {
	for _, sub := range death {
		msg := &Message{Header: MessageHeader{ID: MsgIDPortDeleted}}
		if err := Send(sub.space, wq, msg, sub.name, SendOptions{}); err == nil {
			kmetrics.Notifications.WithLabelValues("port-death").Inc()
		}
	}
	for _, sub := range sendOnce {
		msg := &Message{Header: MessageHeader{ID: MsgIDSendOnceDied}}
		if err := Send(sub.space, wq, msg, sub.name, SendOptions{}); err == nil {
			kmetrics.Notifications.WithLabelValues("send-once-death").Inc()
		}
	}
}
