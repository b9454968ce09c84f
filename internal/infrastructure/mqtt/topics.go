package mqtt

// Every topic the service publishes lives under topicRoot.
const (
	topicRoot   = "tierlist"
	topicEvents = topicRoot + "/events"
	topicSystem = topicRoot + "/system"
)

// Topics builds the service's topic names.
//
//	mqtt.Topics{}.Event("tier", "create") // "tierlist/events/tier/create"
type Topics struct{}

// Event is the topic for one kind of domain mutation.
func (Topics) Event(entity, action string) string {
	return topicEvents + "/" + entity + "/" + action
}

// EntityEvents matches every action on entity, for subscribers.
func (Topics) EntityEvents(entity string) string {
	return topicEvents + "/" + entity + "/+"
}

// AllEvents matches every domain event.
func (Topics) AllEvents() string {
	return topicEvents + "/#"
}

// SystemStatus carries the retained online/offline message and the LWT.
func (Topics) SystemStatus() string {
	return topicSystem + "/status"
}
