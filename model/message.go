package model

import imapv2 "github.com/emersion/go-imap/v2"

// Message represents a single unseen email fetched from the mailbox.
type Message struct {
	UID  imapv2.UID
	Size int64
	Raw  []byte
}
