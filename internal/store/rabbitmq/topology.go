package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queues names the three queues that back one job stream.
//
//	main  -> nack(requeue=false) dead-letters to dlq
//	retry -> per-message TTL dead-letters back to main
type Queues struct {
	Main  string
	Retry string
	DLQ   string
}

func QueuesFor(base string) Queues {
	return Queues{Main: base, Retry: base + ".retry", DLQ: base + ".dlq"}
}

// Declare creates the topology. Publisher and consumer both call it so the
// queue arguments never disagree.
func Declare(ch *amqp.Channel, q Queues) error {
	if _, err := ch.QueueDeclare(q.DLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(q.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.Main,
	}); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(q.Main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.DLQ,
	})
	return err
}
