package agentstate

// AgentID returns the store key for an agent connection: "agent" or
// "agent:name" when a name is given.
func AgentID(agent, name string) string {
	if name == "" {
		return agent
	}
	return agent + ":" + name
}
