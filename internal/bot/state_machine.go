package bot

import (
	"sync"
	"time"

	"tradecore/internal/risk"
)

// TradingState - состояние торговли аккаунта
type TradingState string

const (
	StateWatching     TradingState = "WATCHING"
	StatePositionOpen TradingState = "POSITION_OPEN"
	StateCooldown     TradingState = "COOLDOWN"
	StatePaused       TradingState = "PAUSED"
)

// Пометки автомата
const (
	AdvisoryStatePersistence = "TODO_STATE_PERSISTENCE"
	AdvisoryCooldownTimer    = "TODO_COOLDOWN_TIMER"
)

// StateMachineConfig - параметры кулдауна
type StateMachineConfig struct {
	CooldownMinutes   int `yaml:"cooldown_minutes"`
	LossesForCooldown int `yaml:"losses_for_cooldown"`
}

// DefaultStateMachineConfig: сутки кулдауна после двух убытков подряд
func DefaultStateMachineConfig() StateMachineConfig {
	return StateMachineConfig{
		CooldownMinutes:   1440,
		LossesForCooldown: 2,
	}
}

// StateContext - внешние данные для обработки события
type StateContext struct {
	Now               time.Time
	ConsecutiveLosses int
	AllowResume       bool
}

// Transition - смена состояния, о которой сообщается слушателю
type Transition struct {
	From          TradingState `json:"from"`
	To            TradingState `json:"to"`
	Event         Event        `json:"event"`
	CooldownUntil *time.Time   `json:"cooldown_until,omitempty"`
}

// TransitionListener получает каждую смену состояния
type TransitionListener func(Transition)

// TransitionResult - итог обработки события
type TransitionResult struct {
	State      TradingState
	Advisories []risk.Advisory
}

// StateMachine - автомат WATCHING / POSITION_OPEN / COOLDOWN / PAUSED.
// Один экземпляр на аккаунт биржи, безопасен для конкурентного доступа.
type StateMachine struct {
	mu            sync.Mutex
	state         TradingState
	cooldownUntil *time.Time
	cfg           StateMachineConfig
	listener      TransitionListener
}

// NewStateMachine создаёт автомат в состоянии WATCHING
func NewStateMachine(cfg StateMachineConfig, listener TransitionListener) *StateMachine {
	return &StateMachine{
		state:    StateWatching,
		cfg:      cfg,
		listener: listener,
	}
}

// State возвращает текущее состояние
func (m *StateMachine) State() TradingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CooldownUntil возвращает конец кулдауна или nil
func (m *StateMachine) CooldownUntil() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cooldownUntil == nil {
		return nil
	}
	t := *m.cooldownUntil
	return &t
}

// CanTrade - новые сделки запрещены на паузе и в кулдауне
func (m *StateMachine) CanTrade() bool {
	s := m.State()
	return s != StatePaused && s != StateCooldown
}

// HandleEvent применяет событие. Неизвестные события состояние не меняют.
func (m *StateMachine) HandleEvent(ev Event, sc StateContext) TransitionResult {
	var adv risk.Advisories

	m.mu.Lock()
	from := m.state

	switch ev.Type {
	case EventSafetyPause:
		m.state = StatePaused
		m.cooldownUntil = nil
		adv.Add(risk.Advisory{
			ID:          AdvisoryStatePersistence,
			Description: "persist PAUSED state to durable storage",
		})

	case EventResumeRequested:
		if m.state == StatePaused && sc.AllowResume {
			m.state = StateWatching
			m.cooldownUntil = nil
		}

	case EventTradeExecuted:
		m.state = StatePositionOpen
		m.cooldownUntil = nil

	case EventPositionClosed:
		if sc.ConsecutiveLosses >= m.cfg.LossesForCooldown {
			m.state = StateCooldown
			m.cooldownUntil = m.cooldownEnd(sc.Now)
		} else {
			m.state = StateWatching
			m.cooldownUntil = nil
		}

	case EventCooldownElapsed:
		if m.state == StateCooldown && m.cooldownUntil != nil && !sc.Now.Before(*m.cooldownUntil) {
			m.state = StateWatching
			m.cooldownUntil = nil
		}
	}

	if m.state == StateCooldown && m.cooldownUntil == nil {
		m.cooldownUntil = m.cooldownEnd(sc.Now)
		adv.Add(risk.Advisory{
			ID:          AdvisoryCooldownTimer,
			Description: "schedule cooldown timer to emit COOLDOWN_ELAPSED event",
		})
	}

	to := m.state
	var until *time.Time
	if m.cooldownUntil != nil {
		t := *m.cooldownUntil
		until = &t
	}
	listener := m.listener
	m.mu.Unlock()

	if listener != nil && from != to {
		listener(Transition{From: from, To: to, Event: ev, CooldownUntil: until})
	}
	return TransitionResult{State: to, Advisories: adv.Items()}
}

func (m *StateMachine) cooldownEnd(now time.Time) *time.Time {
	t := now.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
	return &t
}

// ============================================================
// Автоматы по аккаунтам
// ============================================================

// Accounts хранит автомат каждого аккаунта биржи
type Accounts struct {
	mu       sync.Mutex
	cfg      StateMachineConfig
	machines map[string]*StateMachine
	listener func(account string, tr Transition)
}

// NewAccounts создаёт реестр автоматов; listener получает переходы с именем аккаунта
func NewAccounts(cfg StateMachineConfig, listener func(account string, tr Transition)) *Accounts {
	return &Accounts{
		cfg:      cfg,
		machines: make(map[string]*StateMachine),
		listener: listener,
	}
}

// Get возвращает автомат аккаунта, создавая его при первом обращении
func (a *Accounts) Get(account string) *StateMachine {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m, ok := a.machines[account]; ok {
		return m
	}

	var l TransitionListener
	if a.listener != nil {
		l = func(tr Transition) { a.listener(account, tr) }
	}
	m := NewStateMachine(a.cfg, l)
	a.machines[account] = m
	return m
}

// States возвращает снимок состояний всех аккаунтов
func (a *Accounts) States() map[string]TradingState {
	a.mu.Lock()
	machines := make(map[string]*StateMachine, len(a.machines))
	for k, m := range a.machines {
		machines[k] = m
	}
	a.mu.Unlock()

	out := make(map[string]TradingState, len(machines))
	for k, m := range machines {
		out[k] = m.State()
	}
	return out
}
