package chat

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/squadchat/internal/model"
)

// fallbackName is the degraded label used when a room's display data cannot
// be resolved (e.g. a direct room whose other participant is gone). One
// broken room never fails the whole list.
const (
	fallbackName     = "Unknown Chat"
	fallbackInitials = "?"
)

// Project builds the sorted room-list view models. Direct rooms are named
// after the other participant; group rooms use the room name or, lacking one,
// a member summary. Sorted by SortKey descending, ties broken by room id
// descending so the order is deterministic.
func Project(rooms []model.RoomDetail, counts map[string]int, selfID string) []RoomView {
	views := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		v := projectOne(&rooms[i], selfID)
		if counts != nil {
			v.Unread = counts[v.RoomID]
		} else {
			v.Unread = rooms[i].UnreadCount
		}
		views = append(views, v)
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].SortKey.Equal(views[j].SortKey) {
			return views[i].SortKey.After(views[j].SortKey)
		}
		return views[i].RoomID > views[j].RoomID
	})
	return views
}

func projectOne(d *model.RoomDetail, selfID string) RoomView {
	v := RoomView{
		RoomID:      d.Room.ID,
		MemberCount: len(d.Members),
		SortKey:     d.Room.CreatedAt,
	}
	if d.Room.UpdatedAt.After(v.SortKey) {
		v.SortKey = d.Room.UpdatedAt
	}

	if d.LastMessage != nil {
		v.LastMessage = &MessagePreview{
			Content:     d.LastMessage.Content,
			CreatedAt:   d.LastMessage.CreatedAt,
			SenderLabel: d.LastMessage.SenderLabel(),
		}
		if d.LastMessage.CreatedAt.After(v.SortKey) {
			v.SortKey = d.LastMessage.CreatedAt
		}
	}

	v.DisplayName, v.AvatarURL = resolveName(d, selfID)
	if v.DisplayName == "" {
		v.DisplayName = fallbackName
	}
	v.Initials = initials(v.DisplayName)
	return v
}

func resolveName(d *model.RoomDetail, selfID string) (name, avatar string) {
	if d.Room.RoomType == model.RoomTypeDirect {
		for i := range d.Members {
			if d.Members[i].ID != selfID {
				return d.Members[i].DisplayName(), d.Members[i].AvatarURL
			}
		}
		// Other participant missing; degrade, do not fail.
		return "", ""
	}

	if name := strings.TrimSpace(d.Room.Name); name != "" {
		return name, d.Room.AvatarURL
	}
	// Unnamed group: summarize the other members.
	parts := make([]string, 0, len(d.Members))
	for i := range d.Members {
		if d.Members[i].ID == selfID {
			continue
		}
		parts = append(parts, d.Members[i].DisplayName())
	}
	return strings.Join(parts, ", "), d.Room.AvatarURL
}

// initials takes the first letters of the first two words, uppercased.
func initials(name string) string {
	if name == fallbackName || name == "" {
		return fallbackInitials
	}
	var b strings.Builder
	n := 0
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if n++; n >= 2 {
			break
		}
	}
	if n == 0 {
		return fallbackInitials
	}
	return b.String()
}
