package session

import (
	"fmt"
	"sort"
	"strings"

	"companionsync/internal/model"
)

// Policy правило выбора победителя конфликта
type Policy string

const (
	PolicyLocalWins  Policy = "local_wins"
	PolicyRemoteWins Policy = "remote_wins"
	PolicyTimestamp  Policy = "timestamp"
	PolicyManual     Policy = "manual"
)

// ParsePolicy разбирает имя политики; пустое имя означает timestamp
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return PolicyTimestamp, nil
	case PolicyLocalWins, PolicyRemoteWins, PolicyTimestamp, PolicyManual:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// detectConflicts записи с одинаковым ключом и разным содержимым на обеих сторонах.
// Для каждой стороны берется самая поздняя версия записи.
func detectConflicts(local, remote []model.SyncOperation) []model.Conflict {
	localByKey := latestByKey(local)
	remoteByKey := latestByKey(remote)

	var out []model.Conflict
	for key, l := range localByKey {
		r, ok := remoteByKey[key]
		if !ok || checksum(l) == checksum(r) {
			continue
		}
		out = append(out, model.Conflict{RecordKey: key, Local: l, Remote: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordKey < out[j].RecordKey })
	return out
}

// resolve выбирает победителя по политике. Для manual конфликты возвращаются без победителя.
func resolve(policy Policy, conflicts []model.Conflict) []model.Conflict {
	out := make([]model.Conflict, len(conflicts))
	for i, c := range conflicts {
		switch policy {
		case PolicyLocalWins:
			c.Winner = model.ChooseLocal
		case PolicyRemoteWins:
			c.Winner = model.ChooseRemote
		case PolicyTimestamp:
			c.Winner = byTimestamp(c.Local, c.Remote)
		case PolicyManual:
			c.Winner = ""
		}
		out[i] = c
	}
	return out
}

// choose применяет ручное решение ко всем конфликтам
func choose(conflicts []model.Conflict, choice model.ConflictChoice) []model.Conflict {
	out := make([]model.Conflict, len(conflicts))
	for i, c := range conflicts {
		c.Winner = choice
		out[i] = c
	}
	return out
}

// byTimestamp побеждает более поздняя; при равенстве меньший id операции
func byTimestamp(local, remote model.SyncOperation) model.ConflictChoice {
	switch {
	case local.CreatedAt.After(remote.CreatedAt):
		return model.ChooseLocal
	case remote.CreatedAt.After(local.CreatedAt):
		return model.ChooseRemote
	case local.OperationID <= remote.OperationID:
		return model.ChooseLocal
	default:
		return model.ChooseRemote
	}
}

// acceptedRemote удаленные операции, которые нужно применить локально
func acceptedRemote(remote []model.SyncOperation, resolved []model.Conflict) []model.SyncOperation {
	lost := make(map[string]struct{})
	for _, c := range resolved {
		if c.Winner != model.ChooseRemote {
			lost[c.RecordKey] = struct{}{}
		}
	}
	out := make([]model.SyncOperation, 0, len(remote))
	for _, op := range remote {
		if _, ok := lost[op.RecordKey]; ok && op.RecordKey != "" {
			continue
		}
		out = append(out, op)
	}
	return out
}

func latestByKey(ops []model.SyncOperation) map[string]model.SyncOperation {
	m := make(map[string]model.SyncOperation)
	for _, op := range ops {
		if op.RecordKey == "" {
			continue
		}
		cur, ok := m[op.RecordKey]
		if !ok || op.CreatedAt.After(cur.CreatedAt) {
			m[op.RecordKey] = op
		}
	}
	return m
}

func checksum(op model.SyncOperation) string {
	if op.Checksum != "" {
		return op.Checksum
	}
	return model.PayloadChecksum(op.Payload)
}
