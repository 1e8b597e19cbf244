package voipcore

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voipcore/call"
)

// NoopReporter satisfies call.Reporter for platforms without a native call
// UI. Milestones are logged and otherwise dropped.
type NoopReporter struct{}

// ReportIncomingCall logs the ringing incoming call.
func (NoopReporter) ReportIncomingCall(reportID uuid.UUID, contactIdentity string, videoAvailable bool) {
	logrus.WithFields(logrus.Fields{
		"function":  "NoopReporter.ReportIncomingCall",
		"report_id": reportID.String(),
		"identity":  contactIdentity,
		"video":     videoAvailable,
	}).Debug("Incoming call")
}

// ReportOutgoingCallStarted logs the started outgoing call.
func (NoopReporter) ReportOutgoingCallStarted(reportID uuid.UUID, contactIdentity string, videoAvailable bool) {
	logrus.WithFields(logrus.Fields{
		"function":  "NoopReporter.ReportOutgoingCallStarted",
		"report_id": reportID.String(),
		"identity":  contactIdentity,
		"video":     videoAvailable,
	}).Debug("Outgoing call started")
}

// ReportOutgoingCallConnected logs the connect milestone.
func (NoopReporter) ReportOutgoingCallConnected(reportID uuid.UUID) {
	logrus.WithFields(logrus.Fields{
		"function":  "NoopReporter.ReportOutgoingCallConnected",
		"report_id": reportID.String(),
	}).Debug("Outgoing call connected")
}

// ReportCallEnded logs the call's end.
func (NoopReporter) ReportCallEnded(reportID uuid.UUID, reason call.EndedReason, duration time.Duration) {
	logrus.WithFields(logrus.Fields{
		"function":  "NoopReporter.ReportCallEnded",
		"report_id": reportID.String(),
		"reason":    reason.String(),
		"duration":  duration.String(),
	}).Debug("Call ended")
}

// ReportMissedCall logs the missed call.
func (NoopReporter) ReportMissedCall(contactIdentity string) {
	logrus.WithFields(logrus.Fields{
		"function": "NoopReporter.ReportMissedCall",
		"identity": contactIdentity,
	}).Debug("Missed call")
}

// AlwaysGrantMicrophone satisfies call.MicrophoneAuthorizer for platforms
// without a microphone permission model.
type AlwaysGrantMicrophone struct{}

// RequestAccess grants access immediately.
func (AlwaysGrantMicrophone) RequestAccess(result func(granted bool)) {
	result(true)
}
