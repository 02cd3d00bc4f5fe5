package usecase

import (
	"errors"
	"time"

	"tripc-agent/internal/catalog"
)

type ConversationCounter interface {
	Len() int
}

type IndexSnapshotter interface {
	Current() *catalog.Index
}

type Status struct {
	Conversations     int        `json:"conversations"`
	CategoryVersion   uint64     `json:"categoryVersion"`
	Categories        int        `json:"categories"`
	CategoryFetchedAt *time.Time `json:"categoryFetchedAt,omitempty"`
}

// StatusService reports live process state for the status endpoint.
type StatusService struct {
	sessions   ConversationCounter
	categories IndexSnapshotter
}

func NewStatusService(sessions ConversationCounter, categories IndexSnapshotter) (*StatusService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: conversation counter must not be nil")
	}
	if categories == nil {
		return nil, errors.New("usecase: index snapshotter must not be nil")
	}
	return &StatusService{sessions: sessions, categories: categories}, nil
}

// Status never triggers a category refresh.
func (s *StatusService) Status() Status {
	st := Status{Conversations: s.sessions.Len()}
	if ix := s.categories.Current(); ix != nil {
		fetched := ix.FetchedAt
		st.CategoryVersion = ix.Version
		st.Categories = ix.Len()
		st.CategoryFetchedAt = &fetched
	}
	return st
}
