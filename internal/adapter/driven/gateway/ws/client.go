package ws

type Client interface {
	ID() string
	SendEvent(ev Event) error
	Close() error
}
