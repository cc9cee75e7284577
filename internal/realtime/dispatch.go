package realtime

import (
	"directchat/internal/metrics"

	"github.com/rs/zerolog/log"
)

const defaultPreviewLen = 50

// Result summarises one Dispatch.
type Result struct {
	Delivered int
	Dropped   int
	Notified  bool
}

// Dispatcher fans a persisted message out to the live connections of both
// participants.
type Dispatcher struct {
	rooms      *Rooms
	previewLen int
}

func NewDispatcher(rooms *Rooms, previewLen int) *Dispatcher {
	if previewLen <= 0 {
		previewLen = defaultPreviewLen
	}
	return &Dispatcher{rooms: rooms, previewLen: previewLen}
}

// Dispatch delivers receiveMessage once per connection found in the
// conversation room or either personal room. Only the sender's own
// connections see clientMessageID. If no connection of the receiver has
// joined the conversation room, the receiver's personal room also gets a
// newNotification.
func (d *Dispatcher) Dispatch(msg MessagePayload, clientMessageID string) Result {
	senderID, receiverID := msg.Sender.ID, msg.Receiver.ID
	convRoom := RoomID(senderID, receiverID)

	targets := make(map[string]*Conn)
	for _, roomID := range []string{convRoom, PersonalRoom(senderID), PersonalRoom(receiverID)} {
		for _, c := range d.rooms.Members(roomID) {
			targets[c.id] = c
		}
	}

	msg.ClientMessageID = ""
	plain, err := encode(EventReceiveMessage, msg)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("encode message failed")
		return Result{}
	}
	own := plain
	if clientMessageID != "" {
		msg.ClientMessageID = clientMessageID
		if own, err = encode(EventReceiveMessage, msg); err != nil {
			own = plain
		}
	}

	var res Result
	for _, c := range targets {
		frame := plain
		if c.userID == senderID {
			frame = own
		}
		if err := c.Send(frame); err != nil {
			res.Dropped++
			log.Warn().Err(err).Str("conn_id", c.id).Str("message_id", msg.ID).Msg("delivery dropped")
			continue
		}
		res.Delivered++
	}
	metrics.DeliveriesTotal.WithLabelValues("sent").Add(float64(res.Delivered))
	metrics.DeliveriesTotal.WithLabelValues("dropped").Add(float64(res.Dropped))

	if senderID != receiverID && !d.rooms.HasUser(convRoom, receiverID) {
		res.Notified = true
		metrics.NotificationsTotal.Inc()
		n := Notification{
			ID:             msg.ID,
			From:           msg.Sender,
			MessagePreview: preview(msg.Content, d.previewLen),
			Timestamp:      msg.CreatedAt,
		}
		if b, err := encode(EventNewNotification, n); err == nil {
			deliver(d.rooms.Members(PersonalRoom(receiverID)), b)
		}
	}
	return res
}

// deliver enqueues frame on every conn, skipping the ones that cannot take it.
func deliver(conns []*Conn, frame []byte) (sent, dropped int) {
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			dropped++
			continue
		}
		sent++
	}
	if dropped > 0 {
		metrics.DeliveriesTotal.WithLabelValues("dropped").Add(float64(dropped))
	}
	return sent, dropped
}
