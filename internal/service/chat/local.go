package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sati-chat/internal/prefs"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/service/conversation"

	"github.com/google/uuid"
)

// localConversations keeps anonymous conversations in the preference store.
// Every mutation is a read-modify-write of the whole list under mu.
type localConversations struct {
	prefs *prefs.Preferences
	now   func() time.Time
	mu    sync.Mutex
}

func (l *localConversations) load(ctx context.Context) ([]prefs.LocalConversation, error) {
	convs, err := l.prefs.LocalConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local conversations: %w", err)
	}
	return convs, nil
}

func (l *localConversations) save(ctx context.Context, convs []prefs.LocalConversation) error {
	if err := l.prefs.SaveLocalConversations(ctx, convs); err != nil {
		return fmt.Errorf("failed to save local conversations: %w", err)
	}
	return nil
}

func find(convs []prefs.LocalConversation, id string) int {
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *localConversations) create(ctx context.Context, title string) (*db.Conversation, error) {
	if title == "" {
		title = conversation.DefaultTitle
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	lc := prefs.LocalConversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []prefs.LocalMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	convs = append([]prefs.LocalConversation{lc}, convs...)
	if err := l.save(ctx, convs); err != nil {
		return nil, err
	}
	out := toConversation(lc)
	return &out, nil
}

// appendUser adds the user turn, creating the conversation when id is empty
// and deriving the title from the first message.
func (l *localConversations) appendUser(ctx context.Context, id, text string) (*db.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()

	i := 0
	if id == "" {
		convs = append([]prefs.LocalConversation{{
			ID:        uuid.NewString(),
			Title:     conversation.DefaultTitle,
			Messages:  []prefs.LocalMessage{},
			CreatedAt: now,
		}}, convs...)
	} else if i = find(convs, id); i < 0 {
		return nil, conversation.ErrNotFoundOrDenied
	}

	lc := &convs[i]
	lc.Messages = append(lc.Messages, prefs.LocalMessage{Role: db.RoleUser, Content: text, CreatedAt: now})
	lc.UpdatedAt = now
	if lc.Title == conversation.DefaultTitle {
		lc.Title = deriveTitle(text)
	}

	if err := l.save(ctx, convs); err != nil {
		return nil, err
	}
	out := toConversation(*lc)
	return &out, nil
}

func (l *localConversations) appendAssistant(ctx context.Context, id, content, model string) error {
	return l.update(ctx, id, func(lc *prefs.LocalConversation) {
		lc.Messages = append(lc.Messages, prefs.LocalMessage{
			Role:      db.RoleAssistant,
			Content:   content,
			Model:     model,
			CreatedAt: l.now().UTC(),
		})
		lc.UpdatedAt = l.now().UTC()
	})
}

func (l *localConversations) update(ctx context.Context, id string, fn func(*prefs.LocalConversation)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return err
	}
	i := find(convs, id)
	if i < 0 {
		return conversation.ErrNotFoundOrDenied
	}
	fn(&convs[i])
	return l.save(ctx, convs)
}

func (l *localConversations) delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return err
	}
	i := find(convs, id)
	if i < 0 {
		return conversation.ErrNotFoundOrDenied
	}
	convs = append(convs[:i], convs[i+1:]...)
	return l.save(ctx, convs)
}

func (l *localConversations) get(ctx context.Context, id string) (*db.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	i := find(convs, id)
	if i < 0 {
		return nil, conversation.ErrNotFoundOrDenied
	}
	out := toConversation(convs[i])
	return &out, nil
}

func (l *localConversations) list(ctx context.Context, bookmarkedOnly bool) ([]db.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]db.Conversation, 0, len(convs))
	for _, lc := range convs {
		if bookmarkedOnly && !lc.IsBookmarked {
			continue
		}
		out = append(out, toConversation(lc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (l *localConversations) messages(ctx context.Context, id string) ([]db.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	i := find(convs, id)
	if i < 0 {
		return nil, conversation.ErrNotFoundOrDenied
	}
	out := make([]db.Message, 0, len(convs[i].Messages))
	for n, m := range convs[i].Messages {
		out = append(out, db.Message{
			ID:             fmt.Sprintf("%s-%d", id, n),
			ConversationID: id,
			Role:           m.Role,
			Content:        m.Content,
			Model:          m.Model,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

func toConversation(lc prefs.LocalConversation) db.Conversation {
	return db.Conversation{
		ID:           lc.ID,
		Title:        lc.Title,
		IsBookmarked: lc.IsBookmarked,
		CreatedAt:    lc.CreatedAt,
		UpdatedAt:    lc.UpdatedAt,
	}
}
