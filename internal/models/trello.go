package models

type TrelloBoard struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrelloList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrelloCard struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShortURL string `json:"shortUrl"`
	IDBoard  string `json:"idBoard"`
	IDList   string `json:"idList"`
	Closed   bool   `json:"closed"`
	Badges   struct {
		Due string `json:"due"` // RFC3339, empty when no due date is set
	} `json:"badges"`
}

type TrelloWebhook struct {
	ID string `json:"id"`
}

type TrelloMember struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type TrelloWebhookPayload struct {
	Action struct {
		Type          string `json:"type"` // e.g. "commentCard"
		MemberCreator struct {
			Username string `json:"username"`
		} `json:"memberCreator"`
		Data struct {
			Text string `json:"text"`
			Card struct {
				ShortLink string `json:"shortLink"`
				Name      string `json:"name"`
			} `json:"card"`
			Board struct {
				Name string `json:"name"`
			} `json:"board"`
		} `json:"data"`
	} `json:"action"`
	Model struct {
		Username string `json:"username"`
	} `json:"model"`
}
