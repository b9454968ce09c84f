// Package mqtt publishes tier list domain events to an MQTT broker.
//
// Tier and item mutations are published as JSON to
// tierlist/events/{entity}/{action} so other services can react without
// polling the API. The service never subscribes. A retained message on
// tierlist/system/status reports online or offline, and the broker's Last
// Will covers an unclean exit.
//
// Publishing is fire-and-forget from the caller's point of view: the
// broker acknowledgment is awaited in the background and failures are
// counted by Client.Failed. Close waits for those before disconnecting.
//
// Revocation state is never carried over MQTT. It is process-local.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent(mqtt.Event{Entity: "tier", Action: "create", ID: tier.ID, Owner: tier.Owner})
package mqtt
