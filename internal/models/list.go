package models

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrUnexpectedShape 响应既不是数组，也不是包含列表字段的对象
var ErrUnexpectedShape = errors.New("unexpected response shape")

var escalationListKeys = []string{"escalations", "alerts", "items", "data"}

var leaderboardListKeys = []string{"leaderboard", "topResponders", "top_responders", "items", "data"}

// DecodeEscalations 解析工单列表。单条解析失败时跳过该条并计入 skipped
func DecodeEscalations(data []byte) ([]Escalation, int, error) {
	return decodeList[Escalation](data, escalationListKeys)
}

// DecodeLeaderboardEntries 解析排行榜列表
func DecodeLeaderboardEntries(data []byte) ([]LeaderboardEntry, int, error) {
	return decodeList[LeaderboardEntry](data, leaderboardListKeys)
}

// DecodeEscalationList 宽松解析，失败时返回空列表
func DecodeEscalationList(data []byte) []Escalation {
	list, _, err := DecodeEscalations(data)
	if err != nil {
		return []Escalation{}
	}
	return list
}

// DecodeLeaderboard 宽松解析，失败时返回空列表
func DecodeLeaderboard(data []byte) []LeaderboardEntry {
	list, _, err := DecodeLeaderboardEntries(data)
	if err != nil {
		return []LeaderboardEntry{}
	}
	return list
}

func decodeList[T any](data []byte, keys []string) ([]T, int, error) {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return []T{}, 0, nil
	}

	var items []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, err
		}
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, 0, err
		}
		inner := firstRaw(wrapper, keys...)
		if inner == nil {
			return []T{}, 0, nil
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, 0, ErrUnexpectedShape
		}
	default:
		return nil, 0, ErrUnexpectedShape
	}

	out := make([]T, 0, len(items))
	skipped := 0
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}
