package model

import "github.com/lithammer/shortuuid/v4"

const (
	chatIDLength    = 10
	messageIDLength = 14
	messageIDPrefix = "msg"
)

func NewChatID() string {
	return shortuuid.New()[:chatIDLength]
}

func NewMessageID() string {
	return messageIDPrefix + "-" + shortuuid.New()[:messageIDLength]
}
