package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bankline/internal/domain/linkevent"
	"bankline/internal/domain/linktoken"
)

type MockLinkTokenIssuer struct {
	IssueFunc   func(ctx context.Context, userID int64, itemID *int64) (*linktoken.LinkToken, error)
	InspectFunc func(ctx context.Context, value string, userID int64) (*linktoken.ExchangeContext, error)
}

func (m *MockLinkTokenIssuer) Issue(ctx context.Context, userID int64, itemID *int64) (*linktoken.LinkToken, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, userID, itemID)
	}
	return nil, nil
}

func (m *MockLinkTokenIssuer) Inspect(ctx context.Context, value string, userID int64) (*linktoken.ExchangeContext, error) {
	if m.InspectFunc != nil {
		return m.InspectFunc(ctx, value, userID)
	}
	return nil, linktoken.ErrTokenNotFound
}

// MockLinkEventRepo implements linkevent.Repository for testing
type MockLinkEventRepo struct {
	CreateFunc func(ctx context.Context, e *linkevent.Event) (*linkevent.Event, error)
}

func (m *MockLinkEventRepo) Create(ctx context.Context, e *linkevent.Event) (*linkevent.Event, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	e.ID = 1
	return e, nil
}

func TestHandleIssueLinkToken(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantItemID     *int64
		issueErr       error
		expectedStatus int
	}{
		{name: "Empty Body Is Initial Mode", body: "", expectedStatus: http.StatusCreated},
		{name: "Explicit Initial Mode", body: `{}`, expectedStatus: http.StatusCreated},
		{name: "Update Mode", body: `{"itemId":42}`, wantItemID: ptr(int64(42)), expectedStatus: http.StatusCreated},
		{name: "Not Owned", body: `{"itemId":43}`, issueErr: linktoken.ErrNotOwned, expectedStatus: http.StatusForbidden},
		{name: "Malformed", body: `{"itemId":"x"}`, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotItemID *int64
			tokens := &MockLinkTokenIssuer{
				IssueFunc: func(ctx context.Context, userID int64, itemID *int64) (*linktoken.LinkToken, error) {
					gotItemID = itemID
					if tt.issueErr != nil {
						return nil, tt.issueErr
					}
					now := time.Now()
					return &linktoken.LinkToken{Value: "link-sandbox-1", UserID: userID, ItemID: itemID, IssuedAt: now, ExpiresAt: now.Add(30 * time.Minute)}, nil
				},
			}
			handler := NewLinkHandler(tokens, linkevent.NewService(&MockLinkEventRepo{}))

			req := withUser(httptest.NewRequest(http.MethodPost, "/api/link-token", bytes.NewBufferString(tt.body)), 1)
			rr := httptest.NewRecorder()
			handler.HandleIssueLinkToken(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusCreated {
				return
			}
			if (gotItemID == nil) != (tt.wantItemID == nil) || (gotItemID != nil && *gotItemID != *tt.wantItemID) {
				t.Errorf("Issue got itemID %v, want %v", gotItemID, tt.wantItemID)
			}

			var resp map[string]any
			json.NewDecoder(rr.Body).Decode(&resp)
			if resp["token"] != "link-sandbox-1" {
				t.Errorf("token = %v, want link-sandbox-1", resp["token"])
			}
		})
	}
}

func TestHandleInspectLinkToken(t *testing.T) {
	itemID := int64(8)
	tokens := &MockLinkTokenIssuer{
		InspectFunc: func(ctx context.Context, value string, userID int64) (*linktoken.ExchangeContext, error) {
			switch value {
			case "valid":
				return &linktoken.ExchangeContext{Token: value, Mode: linktoken.ModeUpdate, UserID: userID, ItemID: &itemID}, nil
			case "expired":
				return nil, linktoken.ErrExpired
			case "used":
				return nil, linktoken.ErrAlreadyConsumed
			}
			return nil, linktoken.ErrTokenNotFound
		},
	}
	handler := NewLinkHandler(tokens, linkevent.NewService(&MockLinkEventRepo{}))

	tests := []struct {
		token          string
		expectedStatus int
	}{
		{"valid", http.StatusOK},
		{"expired", http.StatusGone},
		{"used", http.StatusConflict},
		{"missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/link-token/"+tt.token, nil)
			req.SetPathValue("token", tt.token)
			rr := httptest.NewRecorder()
			handler.HandleInspectLinkToken(rr, withUser(req, 1))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK {
				var ec linktoken.ExchangeContext
				json.NewDecoder(rr.Body).Decode(&ec)
				if ec.Mode != linktoken.ModeUpdate || ec.ItemID == nil || *ec.ItemID != itemID {
					t.Errorf("unexpected exchange context: %+v", ec)
				}
			}
		})
	}
}

func TestHandleLinkEvent(t *testing.T) {
	var stored *linkevent.Event
	repo := &MockLinkEventRepo{
		CreateFunc: func(ctx context.Context, e *linkevent.Event) (*linkevent.Event, error) {
			stored = e
			e.ID = 11
			return e, nil
		},
	}
	handler := NewLinkHandler(&MockLinkTokenIssuer{}, linkevent.NewService(repo))

	t.Run("Recorded With Session User", func(t *testing.T) {
		body := `{"type":"exit","userId":99,"linkSessionId":"sess-1","errorCode":"ITEM_LOGIN_REQUIRED"}`
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/link-events", bytes.NewBufferString(body)), 1)
		rr := httptest.NewRecorder()
		handler.HandleLinkEvent(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusCreated)
		}
		if stored == nil || stored.UserID != 1 {
			t.Errorf("event stored with user %v, want 1", stored)
		}
	})

	t.Run("Invalid Type", func(t *testing.T) {
		body := `{"type":"bogus","linkSessionId":"sess-1"}`
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/link-events", bytes.NewBufferString(body)), 1)
		rr := httptest.NewRecorder()
		handler.HandleLinkEvent(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
		}
	})
}

func ptr[T any](v T) *T {
	return &v
}
