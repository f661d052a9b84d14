package slackirc

// renderContextFor builds the parser's render context for a message
// delivered to the given IRC destination from the given sender nick.
func (ic *Context) renderContextFor(destination, senderNick, roomID, ts string) *RenderContext {
	rc := &RenderContext{
		SelfNick:       ic.Nick(),
		Destination:    destination,
		SilencedYeller: ic.SilencedYeller(senderNick) || (destination != "" && ic.SilencedYeller(destination)),
		MaxPreLines:    ic.Settings.FormattedMaxLines,
		UserNameByID: func(id string) (string, bool) {
			if u := ic.GetUser(id); u != nil {
				return u.Name, true
			}
			return "", false
		},
		ChannelNameByID: func(id string) (string, bool) {
			if ch := ic.GetChannel(id); ch != nil && !ch.IsDirect() {
				return ch.SlackName(), true
			}
			return "", false
		},
	}
	// regular channels and multi-party IMs both gate the @ highlight
	// on membership; only direct queries have no member list
	if HasChannelPrefix(destination) {
		rc.InDestination = func(userID string) bool {
			ch := ic.Channels.ByName(destination)
			if ch == nil {
				return false
			}
			for _, m := range ch.Members {
				if m == userID {
					return true
				}
			}
			return false
		}
	} else {
		rc.InDestination = func(string) bool { return false }
	}
	if ic.FileHandler != nil && roomID != "" {
		rc.SpillPre = func(text string) (string, bool) {
			return ic.FileHandler.SpillPreformatted(roomID, ts, text)
		}
	}
	return rc
}

// ParseMessageText converts a Slack message body into IRC text for one
// destination.
func (ic *Context) ParseMessageText(text, senderNick, destination, roomID, ts string) string {
	return RenderToIRC(Tokenize(text), ic.renderContextFor(destination, senderNick, roomID, ts))
}

// outgoingContextFor builds the reverse lookup set for a message the
// IRC client is sending towards the given room.
func (ic *Context) outgoingContextFor(roomID string) *OutgoingContext {
	return &OutgoingContext{
		UserIDByNick: func(nick string) (string, bool) {
			u := ic.Users.ByName(nick)
			if u == nil {
				return "", false
			}
			if roomID != "" {
				ch := ic.Channels.ByID(roomID)
				if ch != nil && len(ch.Members) > 0 {
					for _, m := range ch.Members {
						if m == u.ID {
							return u.ID, true
						}
					}
					return "", false
				}
			}
			return u.ID, true
		},
		ChannelIDByName: func(name string) (string, bool) {
			ch := ic.Channels.ByName(name)
			if ch == nil {
				return "", false
			}
			return ch.ID, true
		},
	}
}
