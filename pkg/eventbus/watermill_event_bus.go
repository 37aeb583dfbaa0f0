package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/caseflow/caseflow/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event any

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			switch eventType {
			case events.RequestCreatedEvent:
				event = &events.RequestCreated{}
			case events.RequestValidationRequestedEvent:
				event = &events.RequestValidationRequested{}
			case events.RequestValidatedEvent:
				event = &events.RequestValidated{}
			case events.RequestRefusedEvent:
				event = &events.RequestRefused{}
			case events.RequestCompletedEvent:
				event = &events.RequestCompleted{}
			case events.TaskAssignedEvent:
				event = &events.TaskAssigned{}
			case events.TaskToAssignEvent:
				event = &events.TaskToAssign{}
			case events.TaskStatusChangedEvent:
				event = &events.TaskStatusChanged{}
			case events.TaskValidationRequestedEvent:
				event = &events.TaskValidationRequested{}
			case events.TaskValidatedEvent:
				event = &events.TaskValidated{}
			case events.TaskRefusedEvent:
				event = &events.TaskRefused{}
			case events.SubProcessStartedEvent:
				event = &events.SubProcessStarted{}
			case events.SubProcessCompletedEvent:
				event = &events.SubProcessCompleted{}
			case events.WorkflowRunStartedEvent:
				event = &events.WorkflowRunStarted{}
			case events.WorkflowRunCompletedEvent:
				event = &events.WorkflowRunCompleted{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
