package memstore

import (
	"context"
	"sort"
	"time"

	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

type chatRepo struct {
	s *state
}

func (r *chatRepo) CreateChat(ctx context.Context, name string) (models.Chat, error) {
	chat := models.Chat{ID: r.s.next("chats"), Name: name, CreatedAt: time.Now()}
	r.s.chats[chat.ID] = chat
	return chat, nil
}

func (r *chatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	chat, ok := r.s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (r *chatRepo) DeleteChat(ctx context.Context, chatID int) error {
	if _, ok := r.s.chats[chatID]; !ok {
		return repositories.ErrChatNotFound
	}
	delete(r.s.chats, chatID)
	for key := range r.s.chatParticipants {
		if key.chatID == chatID {
			delete(r.s.chatParticipants, key)
		}
	}
	for id, msg := range r.s.messages {
		if msg.ChatID == chatID {
			delete(r.s.messages, id)
		}
	}
	return nil
}

func (r *chatRepo) AddParticipant(ctx context.Context, p models.ChatParticipant) error {
	if _, ok := r.s.chats[p.ChatID]; !ok {
		return repositories.ErrChatNotFound
	}
	key := chatKey{chatID: p.ChatID, userID: p.UserID}
	if _, ok := r.s.chatParticipants[key]; ok {
		return repositories.ErrAlreadyParticipant
	}
	r.s.chatParticipants[key] = p
	return nil
}

func (r *chatRepo) LockParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error) {
	p, ok := r.s.chatParticipants[chatKey{chatID: chatID, userID: userID}]
	if !ok {
		return models.ChatParticipant{}, repositories.ErrChatParticipantNotFound
	}
	return p, nil
}

func (r *chatRepo) UpdateParticipant(ctx context.Context, p models.ChatParticipant) error {
	key := chatKey{chatID: p.ChatID, userID: p.UserID}
	if _, ok := r.s.chatParticipants[key]; !ok {
		return repositories.ErrChatParticipantNotFound
	}
	r.s.chatParticipants[key] = p
	return nil
}

func (r *chatRepo) DeleteParticipant(ctx context.Context, chatID int, userID int) error {
	key := chatKey{chatID: chatID, userID: userID}
	if _, ok := r.s.chatParticipants[key]; !ok {
		return repositories.ErrChatParticipantNotFound
	}
	delete(r.s.chatParticipants, key)
	return nil
}

func (r *chatRepo) ListParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error) {
	var list []models.ChatParticipant
	for key, p := range r.s.chatParticipants {
		if key.chatID == chatID {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list, nil
}

func (r *chatRepo) IncrementUnreadOffline(ctx context.Context, chatID int, exceptUserID int) ([]models.ChatParticipant, error) {
	var updated []models.ChatParticipant
	for key, p := range r.s.chatParticipants {
		if key.chatID != chatID || key.userID == exceptUserID || p.Online != 0 {
			continue
		}
		p.Unread++
		r.s.chatParticipants[key] = p
		updated = append(updated, p)
	}
	sort.Slice(updated, func(i, j int) bool { return updated[i].UserID < updated[j].UserID })
	return updated, nil
}

func (r *chatRepo) NextOwner(ctx context.Context, chatID int) (models.ChatParticipant, error) {
	list, err := r.ListParticipants(ctx, chatID)
	if err != nil {
		return models.ChatParticipant{}, err
	}
	if len(list) == 0 {
		return models.ChatParticipant{}, repositories.ErrChatParticipantNotFound
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Role.Rank() != b.Role.Rank() {
			return a.Role.Rank() > b.Role.Rank()
		}
		if !a.Activity.Equal(b.Activity) {
			return a.Activity.After(b.Activity)
		}
		if a.Unread != b.Unread {
			return a.Unread < b.Unread
		}
		return a.UserID < b.UserID
	})
	return list[0], nil
}

type messageRepo struct {
	s *state
}

func (r *messageRepo) CreateMessage(ctx context.Context, chatID int, senderID int, content string, sent time.Time) (models.Message, error) {
	if _, ok := r.s.chats[chatID]; !ok {
		return models.Message{}, repositories.ErrChatNotFound
	}
	msg := models.Message{ID: r.s.next("messages"), ChatID: chatID, SenderID: senderID, Content: content, Sent: sent}
	r.s.messages[msg.ID] = msg
	return msg, nil
}

func (r *messageRepo) GetMessage(ctx context.Context, chatID int, messageID int) (models.Message, error) {
	msg, ok := r.s.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (r *messageRepo) UpdateMessage(ctx context.Context, messageID int, content string, updated time.Time) (models.Message, error) {
	msg, ok := r.s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.Content = content
	msg.Updated = &updated
	r.s.messages[messageID] = msg
	return msg, nil
}

func (r *messageRepo) DeleteMessage(ctx context.Context, messageID int) error {
	if _, ok := r.s.messages[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	delete(r.s.messages, messageID)
	return nil
}

func (r *messageRepo) ListMessages(ctx context.Context, chatID int, beforeID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	for _, msg := range r.s.messages {
		if msg.ChatID == chatID && (beforeID == 0 || msg.ID < beforeID) {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Sent.Equal(msgs[j].Sent) {
			return msgs[i].Sent.Before(msgs[j].Sent)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
