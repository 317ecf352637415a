package realtime

import "context"

// Transport：建立一次会话；失败由通道按固定间隔重试
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session：一条已建立的消息会话
// 约束：Done 在会话意外断开时关闭；Close 后不应再投递
type Session interface {
	Send(destination, contentType string, body []byte) error
	Subscribe(destination string, deliver func(body []byte)) (Subscription, error)
	Done() <-chan struct{}
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}
