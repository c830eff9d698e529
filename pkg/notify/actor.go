package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/storefront/pkg/models"
	"go.uber.org/zap"
)

// OrderConfirmation asks the notification actor to email the customer about
// a finalized order.
type OrderConfirmation struct {
	Order *models.Order
}

// NotificationActor owns all outbound email. Sends happen one at a time off
// the actor's mailbox, so a slow email provider never blocks a webhook
// response. A failed send is logged and dropped.
type NotificationActor struct {
	mailer *Mailer
	logger *zap.Logger
}

func (a *NotificationActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *OrderConfirmation:
		sendCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()

		if err := a.mailer.SendOrderConfirmation(sendCtx, msg.Order); err != nil {
			a.logger.Error("Failed to send confirmation email",
				zap.String("order_number", msg.Order.OrderNumber),
				zap.String("to", msg.Order.CustomerEmail),
				zap.Error(err))
		}

	case *actor.Started:
		a.logger.Info("Notification actor started")

	case *actor.Stopping:
		a.logger.Info("Notification actor stopping")

	case *actor.Stopped:
		a.logger.Info("Notification actor stopped")
	}
}

// Dispatcher is the fire-and-forget front of the notification actor.
type Dispatcher struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func NewDispatcher(system *actor.ActorSystem, mailer *Mailer, logger *zap.Logger) (*Dispatcher, error) {
	props := actor.PropsFromProducer(func() actor.Actor {
		return &NotificationActor{
			mailer: mailer,
			logger: logger.Named("notification-actor"),
		}
	})
	pid, err := system.Root.SpawnNamed(props, "notification-actor")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn notification actor: %w", err)
	}

	return &Dispatcher{system: system, pid: pid}, nil
}

// DispatchConfirmation enqueues a confirmation email and returns
// immediately. Callers never learn about send failures; email is outside the
// order consistency boundary.
func (d *Dispatcher) DispatchConfirmation(order *models.Order) {
	d.system.Root.Send(d.pid, &OrderConfirmation{Order: order})
}
