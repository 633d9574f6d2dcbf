// Package latetasks polls Trello for overdue cards and notifies each
// affected user with a per-board summary, delivered one message at a time
// through a rate-limited queue.
package latetasks

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/planetary/buffy/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// doneLists matches list names that mark a card as finished; cards in those
// lists are never late regardless of due date. Matched against lowercased
// names.
var doneLists = regexp.MustCompile(`completed|done|shipped|ready for qa|ready to ship`)

const (
	attachmentColor = "#838C91"
	dueFormat       = "Jan 2, 2006 @ 3:04pm"

	lateSummary = "Hey! A few of your tasks are recently past due. Could you go through " +
		"and add comments or update the expected completion dates?\n\n"
	noLateTasks = "You don't have any late tasks right now!"
)

// TrelloAPI is the slice of the Trello client the pipeline needs.
type TrelloAPI interface {
	MemberBoards(ctx context.Context, member string) ([]models.TrelloBoard, error)
	BoardLists(ctx context.Context, boardID string) ([]models.TrelloList, error)
	MemberCards(ctx context.Context, username string) ([]models.TrelloCard, error)
}

// Directory is the user-record store the pipeline reads.
type Directory interface {
	Get(id string) (*models.UserRecord, error)
	All() ([]models.UserRecord, error)
}

// JobSink receives the delivery jobs a run produces; in production it is
// the rate-limited Queue.
type JobSink interface {
	Push(job Job)
}

// BoardInfo is one board's slot in the per-run index.
type BoardInfo struct {
	Name  string
	Lists map[string]string // list ID -> lowercased list name
}

// BoardIndex maps board IDs to their name and list index. It is rebuilt
// from live Trello state at the start of every run, threaded through the
// classification step, and discarded afterwards.
type BoardIndex map[string]BoardInfo

// Job is one queued private-message delivery.
type Job struct {
	UserID      string
	Text        string
	Attachments []slack.Attachment
	LateCount   int
}

// Pipeline classifies each user's Trello cards as late or not and enqueues
// one notification per affected user.
type Pipeline struct {
	trello    TrelloAPI
	directory Directory
	sink      JobSink
	now       func() time.Time

	debugUserIDs []string // when set, bulk runs cover only these users
}

func NewPipeline(trello TrelloAPI, directory Directory, sink JobSink) *Pipeline {
	return &Pipeline{trello: trello, directory: directory, sink: sink, now: time.Now}
}

// SetDebugUsers narrows bulk runs to the given Slack user IDs.
func (p *Pipeline) SetDebugUsers(ids []string) {
	p.debugUserIDs = ids
}

// Run executes one aggregation pass. With a target user it covers only that
// user, including a "no late tasks" reply when they are clean; with an
// empty target it covers the whole directory and stays silent for clean
// users. Per-board and per-user fetch failures are logged and skipped;
// nothing aborts the rest of the run.
func (p *Pipeline) Run(ctx context.Context, targetUser string) {
	index, err := p.buildBoardIndex(ctx)
	if err != nil {
		zap.L().Error("Failed to fetch boards", zap.Error(err))
		return
	}

	users, err := p.resolveUsers(targetUser)
	if err != nil {
		zap.L().Error("Failed to resolve users", zap.Error(err))
		return
	}

	type fetched struct {
		user  models.UserRecord
		cards []models.TrelloCard
	}
	results := make([]*fetched, len(users))

	g, gctx := errgroup.WithContext(ctx)
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			cards, err := p.trello.MemberCards(gctx, user.Trello)
			if err != nil {
				zap.L().Error("Failed to fetch cards",
					zap.String("user", user.ID),
					zap.String("trello", user.Trello),
					zap.Error(err))
				return nil
			}
			results[i] = &fetched{user: user, cards: cards}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		job := p.buildJob(res.user, res.cards, index)
		if job.LateCount > 0 {
			p.sink.Push(job)
		} else if targetUser != "" {
			p.sink.Push(Job{UserID: res.user.ID, Text: noLateTasks})
		}
	}
}

// buildBoardIndex fetches every board of the bot's Trello identity and, in
// one concurrent batch, each board's lists. A board whose lists fetch fails
// is left out of the index entirely, making its cards invisible downstream.
func (p *Pipeline) buildBoardIndex(ctx context.Context) (BoardIndex, error) {
	boards, err := p.trello.MemberBoards(ctx, "me")
	if err != nil {
		return nil, err
	}

	index := make(BoardIndex, len(boards))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, board := range boards {
		board := board
		g.Go(func() error {
			lists, err := p.trello.BoardLists(gctx, board.ID)
			if err != nil {
				zap.L().Error("Failed to fetch lists",
					zap.String("board", board.ID),
					zap.String("name", board.Name),
					zap.Error(err))
				return nil
			}
			names := make(map[string]string, len(lists))
			for _, list := range lists {
				names[list.ID] = strings.ToLower(list.Name)
			}
			mu.Lock()
			index[board.ID] = BoardInfo{Name: board.Name, Lists: names}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return index, nil
}

func (p *Pipeline) resolveUsers(targetUser string) ([]models.UserRecord, error) {
	if targetUser != "" {
		rec, err := p.directory.Get(targetUser)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Trello == "" {
			return nil, nil
		}
		return []models.UserRecord{*rec}, nil
	}

	recs, err := p.directory.All()
	if err != nil {
		return nil, err
	}

	users := make([]models.UserRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Trello == "" {
			continue
		}
		if len(p.debugUserIDs) > 0 && !slices.Contains(p.debugUserIDs, rec.ID) {
			continue
		}
		users = append(users, rec)
	}
	return users, nil
}

// buildJob classifies one user's cards against the board index. Cards whose
// board or list is missing from the index are skipped silently. Within a
// board, lines keep the API's card order; boards are emitted in sorted ID
// order so an unchanged Trello snapshot always yields an identical job.
func (p *Pipeline) buildJob(user models.UserRecord, cards []models.TrelloCard, index BoardIndex) Job {
	now := p.now()
	lines := make(map[string][]string)
	late := 0

	for _, card := range cards {
		board, ok := index[card.IDBoard]
		if !ok {
			continue
		}
		listName, ok := board.Lists[card.IDList]
		if !ok {
			continue
		}
		if card.Badges.Due == "" {
			continue
		}
		due, err := time.Parse(time.RFC3339, card.Badges.Due)
		if err != nil {
			continue
		}
		if !due.Before(now) || doneLists.MatchString(listName) {
			continue
		}
		late++
		lines[card.IDBoard] = append(lines[card.IDBoard],
			fmt.Sprintf("%s: <%s|%s>", due.Format(dueFormat), card.ShortURL, card.Name))
	}

	boardIDs := make([]string, 0, len(lines))
	for id := range lines {
		boardIDs = append(boardIDs, id)
	}
	sort.Strings(boardIDs)

	attachments := make([]slack.Attachment, 0, len(boardIDs))
	for _, id := range boardIDs {
		attachments = append(attachments, slack.Attachment{
			Fallback: fmt.Sprintf("%s: %d tasks", index[id].Name, len(lines[id])),
			Title:    index[id].Name,
			Text:     strings.Join(lines[id], "\n"),
			Color:    attachmentColor,
		})
	}

	return Job{UserID: user.ID, Text: lateSummary, Attachments: attachments, LateCount: late}
}
