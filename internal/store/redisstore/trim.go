package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type groupCursor struct {
	name          string
	pending       int64
	lastDelivered string
}

// TrimChanges removes the change records that every consumer group has read
// and acknowledged. Entries pending in, or not yet delivered to, any group
// are kept. Without consumer groups nothing is trimmed.
func (s *Store) TrimChanges(ctx context.Context) (int64, error) {
	groups, err := s.groupCursors(ctx)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	var keepFrom string
	for _, g := range groups {
		low, err := nextID(g.lastDelivered)
		if err != nil {
			return 0, err
		}
		if g.pending > 0 {
			p, err := s.client.XPending(ctx, s.StreamKey(), g.name).Result()
			if err != nil {
				return 0, fmt.Errorf("pending of group %s: %w", g.name, err)
			}
			if p.Count > 0 && p.Lower != "" {
				low = p.Lower
			}
		}
		if keepFrom == "" || compareIDs(low, keepFrom) < 0 {
			keepFrom = low
		}
	}

	n, err := s.client.XTrimMinID(ctx, s.StreamKey(), keepFrom).Result()
	if err != nil {
		return 0, fmt.Errorf("trim changes below %s: %w", keepFrom, err)
	}
	return n, nil
}

// groupCursors reads XINFO GROUPS. The reply is decoded generically because
// its field set differs between server versions.
func (s *Store) groupCursors(ctx context.Context) ([]groupCursor, error) {
	reply, err := s.client.Do(ctx, "XINFO", "GROUPS", s.StreamKey()).Slice()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return nil, nil
		}
		return nil, fmt.Errorf("list consumer groups: %w", err)
	}

	groups := make([]groupCursor, 0, len(reply))
	for _, item := range reply {
		fields, ok := item.([]interface{})
		if !ok {
			continue
		}
		var g groupCursor
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			switch key {
			case "name":
				g.name, _ = fields[i+1].(string)
			case "pending":
				g.pending, _ = fields[i+1].(int64)
			case "last-delivered-id":
				g.lastDelivered, _ = fields[i+1].(string)
			}
		}
		if g.name != "" {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// parseID splits a stream entry id "<ms>-<seq>".
func parseID(id string) (ms, seq uint64, err error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		seqPart = "0"
	}
	if ms, err = strconv.ParseUint(msPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid stream id %q", id)
	}
	if seq, err = strconv.ParseUint(seqPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid stream id %q", id)
	}
	return ms, seq, nil
}

// nextID is the smallest id greater than id.
func nextID(id string) (string, error) {
	if id == "" {
		id = "0-0"
	}
	ms, seq, err := parseID(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d", ms, seq+1), nil
}

func compareIDs(a, b string) int {
	ams, aseq, _ := parseID(a)
	bms, bseq, _ := parseID(b)
	switch {
	case ams != bms:
		if ams < bms {
			return -1
		}
		return 1
	case aseq < bseq:
		return -1
	case aseq > bseq:
		return 1
	default:
		return 0
	}
}
