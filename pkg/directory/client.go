package directory

import (
	"fmt"
	"time"

	"github.com/fl-coordination/fabric/pkg/wire"
)

// Client is the thin request/reply client used by aggregators and
// agents to talk to a directory process, implementing the "client
// opens, sends one message, awaits one reply, closes" channel
// abstraction of spec §6.
type Client struct {
	Addr    string
	Timeout time.Duration
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: 10 * time.Second}
}

func (c *Client) roundTrip(kind wire.Kind, req any, reply any) error {
	_, payload, err := wire.RoundTrip(c.Addr, kind, req, c.Timeout)
	if err != nil {
		return fmt.Errorf("directory client: %w", err)
	}
	return wire.DecodePayload(payload, reply)
}

func (c *Client) RegisterAgent(agentID, ip string, port, score int) error {
	var reply wire.RegisterAgentReply
	return c.roundTrip(wire.KindRegisterAgent, wire.RegisterAgent{AgentID: agentID, IP: ip, Port: port, Score: score}, &reply)
}

func (c *Client) GetAggregator() (wire.GetAggregatorReply, error) {
	var reply wire.GetAggregatorReply
	err := c.roundTrip(wire.KindGetAggregator, wire.GetAggregator{}, &reply)
	return reply, err
}

func (c *Client) ElectAggregator(scores map[string]int) (wire.ElectAggregatorReply, error) {
	var reply wire.ElectAggregatorReply
	err := c.roundTrip(wire.KindElectAggregator, wire.ElectAggregator{Scores: scores}, &reply)
	return reply, err
}

func (c *Client) UpdateAggregator(id, ip string, port int) error {
	var reply wire.UpdateAggregatorReply
	return c.roundTrip(wire.KindUpdateAggregator, wire.UpdateAggregator{ID: id, IP: ip, Port: port}, &reply)
}

func (c *Client) ClearAggregator() error {
	var reply wire.ClearAggregatorReply
	return c.roundTrip(wire.KindClearAggregator, wire.ClearAggregator{}, &reply)
}

func (c *Client) GetAgentsCount() (int, error) {
	var reply wire.GetAgentsCountReply
	err := c.roundTrip(wire.KindGetAgentsCount, wire.GetAgentsCount{}, &reply)
	return reply.Count, err
}

func (c *Client) GetAllAgents() (map[string]int, error) {
	var reply wire.GetAllAgentsReply
	err := c.roundTrip(wire.KindGetAllAgents, wire.GetAllAgents{}, &reply)
	return reply.Agents, err
}

func (c *Client) PushModel(msg wire.PushModel) error {
	var reply wire.PushModelReply
	return c.roundTrip(wire.KindPushModel, msg, &reply)
}

func (c *Client) InitBarrier(round, threshold int, aggregatorID, state string) error {
	var reply wire.Ack
	return c.roundTrip(wire.KindInitBarrier, wire.InitBarrier{Round: round, Threshold: threshold, AggregatorID: aggregatorID, State: state}, &reply)
}

func (c *Client) UpdateBarrierState(state string) error {
	var reply wire.Ack
	return c.roundTrip(wire.KindUpdateBarrierState, wire.UpdateBarrierState{State: state}, &reply)
}

func (c *Client) ResetBarrier() error {
	var reply wire.Ack
	return c.roundTrip(wire.KindResetBarrier, wire.ResetBarrier{}, &reply)
}
