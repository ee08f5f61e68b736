package message

// SMI is the reserved service id of the broker's control plane.
const SMI = "SMI"

// SMI verbs.
const (
	VerbUp        = "UP"
	VerbDown      = "DOWN"
	VerbHeartbeat = "HEARTBEAT"
)

// SMIUp announces that sid is ready to receive requests.
func SMIUp(sid string) *Message {
	return New(NewAddress(SMI, VerbUp), sid)
}

// SMIDown announces that sid is going away.
func SMIDown(sid string) *Message {
	return New(NewAddress(SMI, VerbDown), sid)
}

// SMIHeartbeat keeps sid registered on the broker.
func SMIHeartbeat(sid string) *Message {
	return New(NewAddress(SMI, VerbHeartbeat), sid)
}
