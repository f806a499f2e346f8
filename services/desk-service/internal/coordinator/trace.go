package coordinator

import "go.opentelemetry.io/otel/attribute"

func attributeOrg(orgID string) attribute.KeyValue {
	return attribute.String("desk.org_id", orgID)
}

func attributeAppointment(id string) attribute.KeyValue {
	return attribute.String("desk.appointment_id", id)
}
