package rpubsub

import "errors"

var (
	errUnexpectedPush = errors.New("redicore: unexpected push message shape")
	errDroppedMessage = errors.New("redicore: message dropped, consumer too slow")
)
