// Command callx-push sends a single call push, either through FCM to a
// device token or straight to a bridge's MQTT push topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sweeney/callx-bridge/internal/publisher"
	"github.com/sweeney/callx-bridge/internal/push"
)

var pushTypes = map[string]string{
	"started":            push.TypeStarted,
	"ended":              push.TypeEnded,
	"missed":             push.TypeMissed,
	"answered_elsewhere": push.TypeAnsweredElsewhere,
}

func main() {
	typ := flag.String("type", "started", "Push type: started, ended, missed, answered_elsewhere")
	callID := flag.String("call-id", "", "Call id (a started push without one gets a generated id)")
	name := flag.String("caller-name", "", "Caller display name")
	phone := flag.String("caller-phone", "", "Caller number")
	avatar := flag.String("caller-avatar", "", "Caller avatar URL")
	video := flag.Bool("video", false, "Mark the call as video")

	token := flag.String("token", "", "FCM registration token")
	credentials := flag.String("credentials", "", "Firebase service-account JSON (defaults to GOOGLE_APPLICATION_CREDENTIALS)")
	broker := flag.String("broker", "", "Publish to this MQTT broker instead of FCM")
	prefix := flag.String("prefix", "callx", "Bridge topic prefix when using -broker")
	flag.Parse()

	msg, err := buildMessage(*typ, *callID, *name, *phone, *avatar, *video)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := send(ctx, msg, *token, *credentials, *broker, *prefix); err != nil {
		slog.Error("send failed", "error", err)
		os.Exit(1)
	}
	slog.Info("push sent", "type", msg.Type, "call_id", msg.CallID)
}

func buildMessage(typ, callID, name, phone, avatar string, video bool) (push.Message, error) {
	t, ok := pushTypes[typ]
	if !ok {
		return push.Message{}, fmt.Errorf("unknown push type %q", typ)
	}
	if callID == "" && t != push.TypeStarted {
		return push.Message{}, fmt.Errorf("-call-id is required for %s", typ)
	}
	return push.Message{
		Type:         t,
		CallID:       callID,
		CallerName:   name,
		CallerPhone:  phone,
		CallerAvatar: avatar,
		HasVideo:     video,
	}, nil
}

func send(ctx context.Context, msg push.Message, token, credentials, broker, prefix string) error {
	var sender push.Sender
	switch {
	case broker != "":
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   broker,
			ClientID: fmt.Sprintf("callx-push-%d", os.Getpid()),
			QoS:      1,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		sender = push.NewMQTTSender(pub, prefix+"/push")
	case token != "":
		fcm, err := push.NewFCMSender(ctx, credentials)
		if err != nil {
			return err
		}
		sender = fcm
	default:
		return fmt.Errorf("one of -token or -broker is required")
	}
	return sender.Send(ctx, token, msg)
}
