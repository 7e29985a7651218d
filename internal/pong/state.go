package pong

import "sync"

// Field geometry expressed as fractions of the unit play field. Clients scale
// these against their own canvas, so the values must match the renderer.
const (
	// PaddleWidth is the horizontal extent of a paddle.
	PaddleWidth = 0.0167
	// PaddleHeight is the vertical extent of a paddle.
	PaddleHeight = 0.2
	// BallDiameter is the diameter of the ball.
	BallDiameter = 0.0125
	// BaseSpeed is the per-tick velocity applied to both axes after a reset.
	BaseSpeed = 0.005
	// SpeedMultiplier scales both velocity components on collision while speed mode is active.
	SpeedMultiplier = 1.25

	fieldWidth  = 1.0
	fieldHeight = 1.0
)

// Side identifies one half of the play field.
type Side int

const (
	// Left is the field half owned by the match owner.
	Left Side = iota
	// Right is the opponent's half.
	Right
)

// Snapshot is an immutable view of the visible simulation state. Field names
// follow the wire shape consumed by clients.
type Snapshot struct {
	XBall   float64 `json:"xBall"`
	YBall   float64 `json:"yBall"`
	YPadL   float64 `json:"yPadL"`
	YPadR   float64 `json:"yPadR"`
	ScoreL  int     `json:"scoreL"`
	ScoreR  int     `json:"scoreR"`
	IsSpeed bool    `json:"isSpeed"`
}

// Reached reports whether either score has hit the supplied win threshold.
func (s Snapshot) Reached(winScore int) bool {
	return winScore > 0 && (s.ScoreL >= winScore || s.ScoreR >= winScore)
}

// State holds the live physics of one match. All methods are safe for
// concurrent use: the tick loop advances while gateway handlers apply paddle
// and power-up updates, and the mutex guarantees updates are never torn
// across a physics step.
type State struct {
	mu sync.Mutex

	xBall  float64
	yBall  float64
	xSpeed float64
	ySpeed float64

	yPadL float64
	yPadR float64

	scoreL  int
	scoreR  int
	isSpeed bool
}

// NewState constructs a match state with centred paddles and a fresh serve.
func NewState() *State {
	state := &State{
		yPadL: fieldHeight / 2,
		yPadR: fieldHeight / 2,
	}
	state.resetBallLocked()
	return state
}

// Advance moves the ball by the current velocity, resolves wall and paddle
// collisions plus scoring, and returns the resulting snapshot.
func (s *State) Advance() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Integrate the ball position before any collision checks.
	s.xBall += s.xSpeed
	s.yBall += s.ySpeed

	//2.- Bounce off the horizontal walls by inverting the vertical velocity.
	if s.yBall <= 0 || s.yBall >= fieldHeight {
		s.ySpeed = -s.ySpeed
	}

	//3.- Resolve each paddle side in turn; a miss awards the opposite side.
	s.collideLocked(Left)
	s.collideLocked(Right)

	return s.snapshotLocked()
}

// SetPaddles overwrites paddle positions. Nil means "no update for that
// paddle", so an explicit zero position is honoured rather than dropped.
func (s *State) SetPaddles(left, right *float64) {
	if s == nil || (left == nil && right == nil) {
		return
	}
	s.mu.Lock()
	if left != nil {
		s.yPadL = *left
	}
	if right != nil {
		s.yPadR = *right
	}
	s.mu.Unlock()
}

// EnableSpeedMode switches the power-up on. It cannot switch it off; speed
// mode clears itself when the next point is scored.
func (s *State) EnableSpeedMode() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.isSpeed = true
	s.mu.Unlock()
}

// Snapshot returns the current visible state without advancing the simulation.
func (s *State) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		XBall:   s.xBall,
		YBall:   s.yBall,
		YPadL:   s.yPadL,
		YPadR:   s.yPadR,
		ScoreL:  s.scoreL,
		ScoreR:  s.scoreR,
		IsSpeed: s.isSpeed,
	}
}

func (s *State) collideLocked(side Side) {
	paddleX := 0.0
	paddleY := s.yPadL
	beyond := s.xBall < BallDiameter/2
	inBand := s.xBall <= paddleX+PaddleWidth
	if side == Right {
		paddleX = fieldWidth - PaddleWidth
		paddleY = s.yPadR
		beyond = s.xBall+BallDiameter/2 > fieldWidth
		inBand = s.xBall >= paddleX
	}

	// The lower bound deliberately uses the paddle width, not height; the
	// rendering client collides with the same asymmetric band.
	if inBand && s.yBall >= paddleY-PaddleWidth && s.yBall <= paddleY+PaddleHeight {
		//1.- Send the ball away from whichever half of the paddle it struck.
		if s.yBall < paddleY+PaddleHeight/2 {
			s.ySpeed = -abs(s.ySpeed)
		} else {
			s.ySpeed = abs(s.ySpeed)
		}
		//2.- Reflect horizontally and apply the power-up multiplier when armed.
		s.xSpeed = -s.xSpeed
		if s.isSpeed {
			s.xSpeed *= SpeedMultiplier
			s.ySpeed *= SpeedMultiplier
		}
		return
	}

	if beyond {
		//3.- The ball passed the paddle: the opposite side scores and play resets.
		if side == Right {
			s.scoreL++
		} else {
			s.scoreR++
		}
		s.resetBallLocked()
	}
}

func (s *State) resetBallLocked() {
	s.xBall = fieldWidth/2 - BallDiameter/2
	s.yBall = fieldHeight / 2
	s.xSpeed = fieldWidth * BaseSpeed
	s.ySpeed = fieldHeight * BaseSpeed
	s.isSpeed = false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
