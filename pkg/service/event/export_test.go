package event

func NewKafkaWithWriter(w messageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic}
}

type MessageWriter = messageWriter
