package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// A session is one player's independently running copy of the game engine:
// a single-threaded loop fed by store change notifications and the player's
// own actions, exactly one goroutine per websocket connection. Sessions
// never coordinate directly; every intended transition is revalidated
// against a freshly read record inside a store transaction and written
// back, and peers learn the result only through their own subscriptions.

var (
	errNoRoster     = errors.New("player roster unavailable")
	errStaleAdvance = errors.New("level advanced concurrently")
)

type clientAction struct {
	msg clientMessage
}

type session struct {
	cfg    *Config
	store  sharedStore
	db     *historyDB
	rng    *rand.Rand
	roomID string
	player string
	token  string

	send chan any

	snapshots chan any
	actions   chan clientAction
	quit      chan struct{}
	cancelSub func()

	// Local re-entrancy guards. These only short-circuit duplicate work
	// within this session; cross-session safety comes from the store
	// transactions keyed on the level and proposal fields.
	advancing     bool
	executingStar bool

	checkTimer *time.Timer
	checkArmed bool
	lastLevel  int
	lastLives  int
	lastStars  int
	sawGame    bool
}

func newSession(cfg *Config, store sharedStore, db *historyDB, roomID, player, token string, send chan any) *session {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}

	return &session{
		cfg:        cfg,
		store:      store,
		db:         db,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		roomID:     roomID,
		player:     player,
		token:      token,
		send:       send,
		snapshots:  make(chan any, 1),
		actions:    make(chan clientAction, 8),
		quit:       make(chan struct{}),
		checkTimer: t,
	}
}

func (s *session) start() {
	s.cancelSub = s.store.Subscribe(roomPath(s.roomID), func(snap any) {
		select {
		case s.snapshots <- snap:
		case <-s.quit:
		default:
			// Coalesce: drop the stale snapshot, queue the new one.
			select {
			case <-s.snapshots:
			default:
			}
			select {
			case s.snapshots <- snap:
			default:
			}
		}
	})
	go s.run()
}

func (s *session) stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *session) run() {
	defer func() {
		if s.cancelSub != nil {
			s.cancelSub()
		}
	}()

	for {
		select {
		case snap := <-s.snapshots:
			s.handleSnapshot(snap)
		case act := <-s.actions:
			s.handleAction(act.msg)
		case <-s.checkTimer.C:
			s.checkArmed = false
			s.checkLevelComplete()
		case <-s.quit:
			return
		}
	}
}

// scheduleLevelCheck debounces completion detection: a new play supersedes
// any pending check, so a burst of near-simultaneous plays collapses into
// one final check.
func (s *session) scheduleLevelCheck(d time.Duration) {
	s.cancelLevelCheck()
	s.checkTimer.Reset(d)
	s.checkArmed = true
}

func (s *session) cancelLevelCheck() {
	if !s.checkArmed {
		return
	}
	if !s.checkTimer.Stop() {
		select {
		case <-s.checkTimer.C:
		default:
		}
	}
	s.checkArmed = false
}

func (s *session) notify(msg any) {
	select {
	case s.send <- msg:
	default:
	}
}

// ---- snapshot handling ----

func (s *session) handleSnapshot(snap any) {
	room, ok := decodeRoom(snap)
	if !ok {
		s.notify(simpleMessage{Type: "room_closed", Message: "The room was closed."})
		s.stop()
		return
	}

	if room.Status == statusWaiting {
		// A round ended or never started; clear round-scoped state.
		s.advancing = false
		s.executingStar = false
		s.sawGame = false
		s.cancelLevelCheck()
	}

	if room.Game != nil {
		s.noteLevelTransition(room.Game)
		s.lastLevel = room.Game.Level
		s.lastLives = room.Game.Lives
		s.lastStars = room.Game.Stars
		s.sawGame = true
	}

	s.notify(roomStateMessage{
		Type:   "room_state",
		Room:   roomView(s.roomID, room),
		Game:   gameView(room, s.player),
		IsHost: room.Host == s.player,
	})
}

// noteLevelTransition pushes a level-up notification when the level
// increases between two observed snapshots, including which reward was
// actually banked and where the next one waits.
func (s *session) noteLevelTransition(g *gameRecord) {
	if !s.sawGame || g.Level <= s.lastLevel {
		return
	}

	completed := s.lastLevel
	reward := ""
	switch levelRewards[completed] {
	case rewardLife:
		if g.Lives > s.lastLives {
			reward = rewardLife
		}
	case rewardStar:
		if g.Stars > s.lastStars {
			reward = rewardStar
		}
	}

	nextLevel, nextReward := 0, ""
	for lvl := g.Level; lvl <= g.MaxLevels; lvl++ {
		if r, ok := levelRewards[lvl]; ok {
			nextLevel, nextReward = lvl, r
			break
		}
	}

	s.notify(levelUpMessage{
		Type:            "level_up",
		CompletedLevel:  completed,
		NewLevel:        g.Level,
		RewardGained:    reward,
		NextRewardLevel: nextLevel,
		NextReward:      nextReward,
	})
}

// ---- actions ----

func (s *session) handleAction(msg clientMessage) {
	var err error

	switch msg.Type {
	case "start":
		err = startGame(s.store, s.roomID, s.player, s.rng)
	case "play":
		err = s.playCard(msg.Card)
	case "propose_star":
		err = s.proposeStar()
	case "vote_yes":
		err = s.voteStarYes()
	case "vote_no":
		err = s.voteStarNo()
	case "leave":
		s.leave()
	default:
		// ignore unknown types
	}

	if err != nil {
		s.notify(simpleMessage{Type: "error", Message: err.Error()})
	}
}

func (s *session) roster() ([]string, error) {
	snap, ok := s.store.Read(playersPath(s.roomID))
	if !ok {
		return nil, errNoRoster
	}
	players := asMap(snap)
	if len(players) == 0 {
		return nil, errNoRoster
	}
	roster := make([]string, 0, len(players))
	for name := range players {
		roster = append(roster, name)
	}
	return roster, nil
}

// playCard revalidates the play against a fresh snapshot inside the
// transaction and commits either the play or its penalty as one write.
func (s *session) playCard(rank int) error {
	if s.advancing {
		return nil // ConcurrentAdvanceDetected: silently skipped
	}
	if rank < 1 || rank > deckSize {
		return errNotYourCard
	}

	roster, err := s.roster()
	if err != nil {
		return err
	}

	s.cancelLevelCheck()

	var decision playDecision
	var penalty penaltyOutcome
	err = s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok {
			return nil, errGameInactive
		}

		decision, err = validatePlay(g, s.player, rank)
		if err != nil {
			return nil, err
		}

		if decision.Verdict == playValid {
			applyPlay(g, s.player, rank)
		} else {
			penalty = applyPenalty(g, roster, decision.ReferenceRank)
		}
		return encodeGame(g), nil
	})
	if err != nil {
		return err
	}

	switch {
	case decision.Verdict == playValid:
		logf(s.cfg, "MIND: %q played %d in %s", s.player, rank, s.roomID)
		s.scheduleLevelCheck(s.cfg.playCheckDelay)
	case penalty.Terminal:
		logf(s.cfg, "MIND: game over in %s (last life lost on ref %d)", s.roomID, decision.ReferenceRank)
		s.recordResult(false)
		s.scheduleRoomReset()
	default:
		logf(s.cfg, "MIND: %s in %s, ref %d, %d lives left",
			decision.Verdict, s.roomID, decision.ReferenceRank, penalty.Lives)
		s.notify(simpleMessage{
			Type: "info",
			Message: fmt.Sprintf("Card out of order (reference %d). Lives left: %d. Cards up to %d were discarded.",
				decision.ReferenceRank, penalty.Lives, decision.ReferenceRank),
		})
		s.scheduleLevelCheck(s.cfg.penaltyCheckDelay)
	}

	return nil
}

// checkLevelComplete runs the debounced completion probe: fresh game
// snapshot, durable roster, then at most one advancement attempt.
func (s *session) checkLevelComplete() {
	if s.advancing {
		return
	}

	roster, err := s.roster()
	if err != nil {
		return // non-fatal abstain; retried on the next trigger
	}
	snap, ok := s.store.Read(gamePath(s.roomID))
	if !ok {
		return
	}
	g, ok := decodeGame(snap)
	if !ok || !levelComplete(g, roster) {
		return
	}

	s.advanceLevel(g.Level, roster)
}

// advanceLevel attempts the level transition. The transaction re-checks
// that the stored level is still the one observed as complete, so when two
// sessions race only the first commit lands; the loser's transaction is
// rejected and silently dropped.
func (s *session) advanceLevel(fromLevel int, roster []string) {
	if s.advancing {
		return
	}
	s.advancing = true
	defer func() { s.advancing = false }()

	victory := false
	err := s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok || g.GameOver {
			return nil, errGameInactive
		}
		if g.Level != fromLevel || !levelComplete(g, roster) {
			return nil, errStaleAdvance
		}
		victory = advanceGame(g, roster, s.rng)
		return encodeGame(g), nil
	})
	if err != nil {
		return // someone else advanced, or the game ended underneath us
	}

	if victory {
		logf(s.cfg, "MIND: victory in %s at level %d", s.roomID, fromLevel)
		s.recordResult(true)
		s.scheduleRoomReset()
		return
	}
	logf(s.cfg, "MIND: %s advanced to level %d", s.roomID, fromLevel+1)
}

// ---- star consensus ----

func (s *session) proposeStar() error {
	if s.advancing {
		return nil
	}
	err := s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok {
			return nil, errGameInactive
		}
		if err := proposeStar(g, s.player); err != nil {
			return nil, err
		}
		return encodeGame(g), nil
	})
	if err != nil {
		return err
	}

	logf(s.cfg, "MIND: %q proposed a star in %s", s.player, s.roomID)
	s.checkStarVotes()
	return nil
}

func (s *session) voteStarYes() error {
	if s.advancing {
		return nil
	}
	err := s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok {
			return nil, errGameInactive
		}
		if err := voteStarYes(g, s.player); err != nil {
			return nil, err
		}
		return encodeGame(g), nil
	})
	if err != nil {
		return err
	}

	s.checkStarVotes()
	return nil
}

func (s *session) voteStarNo() error {
	if s.advancing {
		return nil
	}
	return s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok {
			return nil, errGameInactive
		}
		voteStarNo(g)
		return encodeGame(g), nil
	})
}

// checkStarVotes fires the execution when every roster member has agreed.
// The transaction re-checks the proposal, so concurrent "everyone just
// voted" detections burn exactly one star.
func (s *session) checkStarVotes() {
	if s.executingStar {
		return
	}

	roster, err := s.roster()
	if err != nil {
		return
	}
	snap, ok := s.store.Read(gamePath(s.roomID))
	if !ok {
		return
	}
	g, ok := decodeGame(snap)
	if !ok || !starUnanimous(g, roster) {
		return
	}

	s.executingStar = true
	defer func() { s.executingStar = false }()

	if s.executeStarProposal(g.StarProposal, roster) != nil {
		return
	}

	logf(s.cfg, "MIND: star used in %s, each player discarded their lowest card", s.roomID)
	s.scheduleLevelCheck(s.cfg.penaltyCheckDelay)
}

// executeStarProposal commits the star burn. The transaction re-checks both
// the proposer and full unanimity against the fresh record: a proposal that
// was cancelled and re-opened between the unanimity read and this commit is
// rejected rather than executed on the proposer's lone vote.
func (s *session) executeStarProposal(proposer string, roster []string) error {
	return s.store.Update(gamePath(s.roomID), func(current any) (any, error) {
		g, ok := decodeGame(current)
		if !ok {
			return nil, errGameInactive
		}
		if g.StarProposal != proposer || !starUnanimous(g, roster) {
			return nil, errStaleAdvance
		}
		if !executeStar(g, roster) {
			return nil, errStaleAdvance
		}
		return encodeGame(g), nil
	})
}

// ---- terminal transitions ----

// scheduleRoomReset flips the room back to waiting after the display
// delay. Only the session whose transaction committed the terminal state
// reaches this, so the reset runs once. The transaction aborts if the room
// was deleted during the display window; a blind merge would resurrect it.
func (s *session) scheduleRoomReset() {
	roomID := s.roomID
	store := s.store
	delay := s.cfg.resetDelay

	go func() {
		time.Sleep(delay)
		_ = store.Update(roomPath(roomID), func(current any) (any, error) {
			room, ok := decodeRoom(current)
			if !ok {
				return nil, errRoomNotFound
			}
			room.Status = statusWaiting
			room.Game = nil
			return encodeRoom(room), nil
		})
	}()
}

// recordResult persists the finished round for the stats endpoint.
func (s *session) recordResult(victory bool) {
	if s.db == nil {
		return
	}

	snap, _ := s.store.Read(roomPath(s.roomID))
	room, ok := decodeRoom(snap)
	if !ok || room.Game == nil {
		return
	}
	if err := s.db.recordGame(s.roomID, room.Name, room.Game.Level, len(room.Players), victory); err != nil {
		logf(s.cfg, "MIND: failed to record game result for %s: %v", s.roomID, err)
	}
}

func (s *session) leave() {
	s.store.CancelCleanup(s.token, playerPath(s.roomID, s.player))
	if err := leaveRoom(s.store, s.roomID, s.player); err != nil {
		logf(s.cfg, "MIND: leave failed for %q in %s: %v", s.player, s.roomID, err)
	}
	s.stop()
}
