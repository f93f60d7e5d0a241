package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"

	"go.uber.org/zap"
)

// Publisher MQTT 发布能力（*mqtt.Client 实现，测试中可替换）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink 把最新视图以 retained 消息发布到主题，新订阅者立即拿到当前看板
type MQTTSink struct {
	publisher Publisher
	topic     string
	qos       byte
	logger    *zap.Logger
}

// NewMQTTSink 创建 MQTT sink
func NewMQTTSink(publisher Publisher, topic string, qos byte, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		logger:    logger,
	}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Publish 发布视图 JSON
func (s *MQTTSink) Publish(ctx context.Context, view dashboard.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard view: %w", err)
	}
	if err := s.publisher.Publish(s.topic, s.qos, true, payload); err != nil {
		return err
	}

	s.logger.Debug("Published dashboard view",
		zap.String("topic", s.topic),
		zap.String("cycle_id", view.CycleID),
		zap.Int("bytes", len(payload)),
	)
	return nil
}
