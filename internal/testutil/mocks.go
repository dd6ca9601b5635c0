package testutil

import (
	"context"
	"errors"
	"sync"

	"sati-chat/internal/repository/db"
	"sati-chat/internal/service/llm"
)

var _ db.Database = (*MockDatabase)(nil)

// MockDatabase is a mock implementation of db.Database for testing.
// Unset funcs return an error so tests fail loudly on unexpected calls.
type MockDatabase struct {
	// User mocks
	CreateUserFunc         func(ctx context.Context, email, passwordHash string) (*db.User, error)
	GetUserByEmailFunc     func(ctx context.Context, email string) (*db.User, error)
	BumpSessionVersionFunc func(ctx context.Context, email string) error
	DeleteUserFunc         func(ctx context.Context, email string) error

	// Conversation mocks
	CreateConversationFunc        func(ctx context.Context, userEmail, title string) (*db.Conversation, error)
	GetConversationFunc           func(ctx context.Context, id string) (*db.Conversation, error)
	GetConversationsByUserFunc    func(ctx context.Context, userEmail string, bookmarkedOnly bool) ([]db.Conversation, error)
	UpdateConversationTitleFunc   func(ctx context.Context, id, userEmail, title string) error
	SetConversationBookmarkFunc   func(ctx context.Context, id, userEmail string, bookmarked bool) error
	DeleteConversationFunc        func(ctx context.Context, id, userEmail string) error
	DeleteConversationsByUserFunc func(ctx context.Context, userEmail string) error

	// Message mocks
	AddMessageFunc              func(ctx context.Context, conversationID, role, content, model string) (*db.Message, error)
	GetConversationMessagesFunc func(ctx context.Context, conversationID string) ([]db.Message, error)
	DeleteMessagesFunc          func(ctx context.Context, conversationID string) error
}

var errNotImplemented = errors.New("not implemented")

// User methods
func (m *MockDatabase) CreateUser(ctx context.Context, email, passwordHash string) (*db.User, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, email, passwordHash)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	if m.GetUserByEmailFunc != nil {
		return m.GetUserByEmailFunc(ctx, email)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) BumpSessionVersion(ctx context.Context, email string) error {
	if m.BumpSessionVersionFunc != nil {
		return m.BumpSessionVersionFunc(ctx, email)
	}
	return errNotImplemented
}

func (m *MockDatabase) DeleteUser(ctx context.Context, email string) error {
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, email)
	}
	return errNotImplemented
}

// Conversation methods
func (m *MockDatabase) CreateConversation(ctx context.Context, userEmail, title string) (*db.Conversation, error) {
	if m.CreateConversationFunc != nil {
		return m.CreateConversationFunc(ctx, userEmail, title)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversation(ctx context.Context, id string) (*db.Conversation, error) {
	if m.GetConversationFunc != nil {
		return m.GetConversationFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversationsByUser(ctx context.Context, userEmail string, bookmarkedOnly bool) ([]db.Conversation, error) {
	if m.GetConversationsByUserFunc != nil {
		return m.GetConversationsByUserFunc(ctx, userEmail, bookmarkedOnly)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) UpdateConversationTitle(ctx context.Context, id, userEmail, title string) error {
	if m.UpdateConversationTitleFunc != nil {
		return m.UpdateConversationTitleFunc(ctx, id, userEmail, title)
	}
	return errNotImplemented
}

func (m *MockDatabase) SetConversationBookmark(ctx context.Context, id, userEmail string, bookmarked bool) error {
	if m.SetConversationBookmarkFunc != nil {
		return m.SetConversationBookmarkFunc(ctx, id, userEmail, bookmarked)
	}
	return errNotImplemented
}

func (m *MockDatabase) DeleteConversation(ctx context.Context, id, userEmail string) error {
	if m.DeleteConversationFunc != nil {
		return m.DeleteConversationFunc(ctx, id, userEmail)
	}
	return errNotImplemented
}

func (m *MockDatabase) DeleteConversationsByUser(ctx context.Context, userEmail string) error {
	if m.DeleteConversationsByUserFunc != nil {
		return m.DeleteConversationsByUserFunc(ctx, userEmail)
	}
	return errNotImplemented
}

// Message methods
func (m *MockDatabase) AddMessage(ctx context.Context, conversationID, role, content, model string) (*db.Message, error) {
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(ctx, conversationID, role, content, model)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	if m.GetConversationMessagesFunc != nil {
		return m.GetConversationMessagesFunc(ctx, conversationID)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) DeleteMessages(ctx context.Context, conversationID string) error {
	if m.DeleteMessagesFunc != nil {
		return m.DeleteMessagesFunc(ctx, conversationID)
	}
	return errNotImplemented
}

func (m *MockDatabase) Close() error {
	return nil
}

// SendCall records one invocation of MockSender.Send
type SendCall struct {
	Endpoint string
	Prompt   string
	Model    string
}

// MockSender is a mock implementation of llm.Sender for testing
type MockSender struct {
	SendFunc func(ctx context.Context, endpoint, prompt, model string) (*llm.Response, error)

	mu    sync.Mutex
	calls []SendCall
}

func (m *MockSender) Send(ctx context.Context, endpoint, prompt, model string) (*llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, SendCall{Endpoint: endpoint, Prompt: prompt, Model: model})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, endpoint, prompt, model)
	}
	return &llm.Response{Text: "mock reply", Attempts: 1}, nil
}

// Calls returns a copy of the recorded invocations
func (m *MockSender) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendCall, len(m.calls))
	copy(out, m.calls)
	return out
}
