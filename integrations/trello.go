package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/planetary/buffy/internal/models"
	"go.uber.org/zap"
)

const trelloBaseURL = "https://api.trello.com"

type TrelloClient struct {
	Client   *http.Client
	APIKey   string
	APIToken string
	BaseURL  string
}

func NewTrelloClient(key, token string) *TrelloClient {
	return &TrelloClient{
		Client:   &http.Client{Timeout: 30 * time.Second},
		APIKey:   key,
		APIToken: token,
		BaseURL:  trelloBaseURL,
	}
}

func (tc *TrelloClient) get(ctx context.Context, path string, out any) error {
	u, err := url.Parse(tc.BaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to build request URL: %v", err)
	}
	q := u.Query()
	q.Set("key", tc.APIKey)
	q.Set("token", tc.APIToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create get request: %v", err)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send get request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// MemberBoards fetches the boards visible to the given member. Pass "me"
// for the boards of the authenticated identity.
func (tc *TrelloClient) MemberBoards(ctx context.Context, member string) ([]models.TrelloBoard, error) {
	var boards []models.TrelloBoard
	if err := tc.get(ctx, "/1/members/"+url.PathEscape(member)+"/boards", &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// BoardLists fetches the lists of one board.
func (tc *TrelloClient) BoardLists(ctx context.Context, boardID string) ([]models.TrelloList, error) {
	var lists []models.TrelloList
	if err := tc.get(ctx, "/1/boards/"+url.PathEscape(boardID)+"/lists", &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// MemberCards fetches every card assigned to the given Trello username.
// A non-2xx response (unknown username included) comes back as an error,
// which is also how the verification flow probes whether a username exists.
func (tc *TrelloClient) MemberCards(ctx context.Context, username string) ([]models.TrelloCard, error) {
	var cards []models.TrelloCard
	if err := tc.get(ctx, "/1/members/"+url.PathEscape(username)+"/cards", &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// Member resolves a Trello username to its member record.
func (tc *TrelloClient) Member(ctx context.Context, username string) (*models.TrelloMember, error) {
	var member models.TrelloMember
	if err := tc.get(ctx, "/1/members/"+url.PathEscape(username), &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// CreateWebhook registers a Trello webhook for the given model and returns
// the new webhook's ID.
func (tc *TrelloClient) CreateWebhook(ctx context.Context, callbackURL, idModel string) (string, error) {
	apiURL := tc.BaseURL + "/1/webhooks/"

	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", tc.APIToken)
	formData.Set("callbackURL", callbackURL)
	formData.Set("idModel", idModel)
	formData.Set("description", "Buffy comment notifications")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send post request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var webhook models.TrelloWebhook
	if err := json.NewDecoder(resp.Body).Decode(&webhook); err != nil {
		return "", fmt.Errorf("failed to decode Trello response: %v", err)
	}

	zap.L().Info("Registered Trello webhook", zap.String("webhookID", webhook.ID), zap.String("idModel", idModel))

	return webhook.ID, nil
}

// DeleteWebhook removes a previously registered webhook.
func (tc *TrelloClient) DeleteWebhook(ctx context.Context, webhookID string) error {
	apiURL := fmt.Sprintf("%s/1/webhooks/%s", tc.BaseURL, url.PathEscape(webhookID))

	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", tc.APIToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL, bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create delete request: %v", err)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send delete request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	zap.L().Info("Deleted Trello webhook", zap.String("webhookID", webhookID))

	return nil
}
