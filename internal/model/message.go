package model

// Message is a publication received from the broker, handed to the application.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}
