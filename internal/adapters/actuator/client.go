package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
)

// Default motion parameters for the cherrybot-style arm API.
const (
	defaultSpeed     = 100
	defaultPullAngle = 56.0 // degrees; Y-Z plane angle of the slingshot pull
	pullScale        = 10.0 // pull distance multiplier to millimeters
)

// pose is an absolute TCP target: coordinate plus rotation.
type pose struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// Fixed rig poses, measured on the physical setup.
var (
	poseHome     = pose{X: 0, Y: -410, Z: 295, Roll: -180, Pitch: 0, Yaw: -90}
	poseGrab     = pose{X: 0, Y: -540, Z: 215, Roll: 180, Pitch: -57, Yaw: -90}
	poseApproach = pose{X: -270, Y: -255, Z: 30, Roll: -180, Pitch: 0, Yaw: -180}
	posePickup   = pose{X: -270, Y: -255, Z: 10, Roll: -180, Pitch: 0, Yaw: -180}
	poseLoad     = pose{X: 0, Y: -560, Z: 300, Roll: 180, Pitch: 0, Yaw: -90}
)

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithOperator sets the operator identity sent on login.
func WithOperator(name, email string) ClientOption {
	return func(cl *Client) {
		cl.operator = operator{Name: name, Email: email}
	}
}

// WithSpeed sets the motion speed for all moves.
func WithSpeed(speed int) ClientOption {
	return func(cl *Client) {
		if speed > 0 {
			cl.speed = speed
		}
	}
}

// WithPullAngle sets the Y-Z plane angle of the pull-back trajectory.
func WithPullAngle(deg float64) ClientOption {
	return func(cl *Client) {
		if deg > 0 {
			cl.pullAngle = deg
		}
	}
}

type operator struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Client drives the arm over its HTTP API: an operator token lifecycle,
// absolute TCP moves and gripper strengths.
type Client struct {
	baseURL   string
	http      *http.Client
	operator  operator
	speed     int
	pullAngle float64
}

var _ Arm = (*Client)(nil)

// NewClient creates an arm client for the given API base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      http.DefaultClient,
		operator:  operator{Name: "slingbot", Email: "slingbot@localhost"},
		speed:     defaultSpeed,
		pullAngle: defaultPullAngle,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Login registers the operator and fetches the session token.
func (c *Client) Login(ctx context.Context) (string, error) {
	body, err := json.Marshal(c.operator)
	if err != nil {
		return "", fmt.Errorf("encode operator: %w", err)
	}
	if err := c.send(ctx, http.MethodPost, "/operator", "application/json", body, nil); err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodGet, "/operator", "", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: login returned no token", ErrFault)
	}
	return resp.Token, nil
}

// Logoff releases the operator slot for the given token.
func (c *Client) Logoff(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodDelete, "/operator/"+token, "", nil, nil)
}

// Do executes one primitive action against the arm.
func (c *Client) Do(ctx context.Context, token string, a Action) error {
	switch a.Name {
	case ActionHome:
		return c.moveTo(ctx, token, poseHome)
	case ActionGrab:
		return c.moveTo(ctx, token, poseGrab)
	case ActionLoad:
		return c.moveTo(ctx, token, poseLoad)
	case ActionPickup:
		// Approach from above, then lower onto the ball.
		if err := c.moveTo(ctx, token, poseApproach); err != nil {
			return err
		}
		return c.moveTo(ctx, token, posePickup)
	case ActionGrip, ActionRelease:
		return c.setGripper(ctx, token, int(a.Value))
	case ActionTranslate:
		return c.translate(ctx, token, a.Value)
	case ActionRotate:
		return c.rotate(ctx, token, a.Value)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrFault, a.Name)
	}
}

// translate pulls the sling back: a relative move in the Y-Z plane at the
// configured pull angle, X fixed.
func (c *Client) translate(ctx context.Context, token string, pull float64) error {
	p, err := c.position(ctx, token)
	if err != nil {
		return err
	}

	rad := c.pullAngle * math.Pi / 180
	dist := pullScale * pull
	p.Y += dist * math.Cos(rad)
	p.Z -= dist * math.Sin(rad)

	return c.moveTo(ctx, token, p)
}

// rotate turns the arm around the Z axis, adjusting both position and yaw to
// keep the tool orientation consistent.
func (c *Client) rotate(ctx context.Context, token string, angle float64) error {
	p, err := c.position(ctx, token)
	if err != nil {
		return err
	}

	rad := angle * math.Pi / 180
	x := p.X*math.Cos(rad) - p.Y*math.Sin(rad)
	y := p.X*math.Sin(rad) + p.Y*math.Cos(rad)
	p.X, p.Y = x, y
	p.Yaw += angle

	return c.moveTo(ctx, token, p)
}

type tcpPayload struct {
	Coordinate struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"coordinate"`
	Rotation struct {
		Roll  float64 `json:"roll"`
		Pitch float64 `json:"pitch"`
		Yaw   float64 `json:"yaw"`
	} `json:"rotation"`
}

// position reads the current TCP pose.
func (c *Client) position(ctx context.Context, token string) (pose, error) {
	var resp tcpPayload
	if err := c.sendAuth(ctx, token, http.MethodGet, "/tcp", "", nil, &resp); err != nil {
		return pose{}, err
	}
	return pose{
		X: resp.Coordinate.X, Y: resp.Coordinate.Y, Z: resp.Coordinate.Z,
		Roll: resp.Rotation.Roll, Pitch: resp.Rotation.Pitch, Yaw: resp.Rotation.Yaw,
	}, nil
}

// moveTo issues an absolute TCP move and waits for confirmation.
func (c *Client) moveTo(ctx context.Context, token string, p pose) error {
	var target tcpPayload
	target.Coordinate.X, target.Coordinate.Y, target.Coordinate.Z = p.X, p.Y, p.Z
	target.Rotation.Roll, target.Rotation.Pitch, target.Rotation.Yaw = p.Roll, p.Pitch, p.Yaw

	body, err := json.Marshal(struct {
		Target tcpPayload `json:"target"`
		Speed  int        `json:"speed"`
	}{Target: target, Speed: c.speed})
	if err != nil {
		return fmt.Errorf("encode move: %w", err)
	}

	return c.sendAuth(ctx, token, http.MethodPut, "/tcp/target", "application/json", body, nil)
}

// setGripper sets the gripper strength (raw integer body, per the arm API).
func (c *Client) setGripper(ctx context.Context, token string, strength int) error {
	body := []byte(strconv.Itoa(strength))
	return c.sendAuth(ctx, token, http.MethodPut, "/gripper", "application/json", body, nil)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	return c.sendAuth(ctx, "", method, path, contentType, body, out)
}

func (c *Client) sendAuth(ctx context.Context, token, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrFault, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authentication", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %w", ErrFault, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: status %d", ErrFault, method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s response: %w", ErrFault, path, err)
		}
	}
	return nil
}
