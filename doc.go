// Package passbook provides a credit-metered publishing core for group
// events with subscription-driven visibility.
//
// Passbook is a library, not a service. Import it into the application that
// owns authentication and billing and feed it three kinds of calls:
//
//   - PublishEvent debits a user's credits and creates an event under a group
//     in one atomic transaction, topping up or reminding the user when the
//     balance runs low.
//   - SyncSubscription applies a billing notification to every group a user
//     owns and hides or restores the groups' events accordingly.
//   - Sweep deletes groups, and their events, whose subscription has been
//     inactive for longer than the retention window.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/passbook"
//	    "github.com/xraph/passbook/store/sqlite"
//	)
//
//	s, err := sqlite.Open("passbook.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := passbook.New(s, passbook.WithLogger(logger))
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	res, err := engine.PublishEvent(ctx, userID, groupID, event.Draft{
//	    Title:     "Spring meetup",
//	    Location:  "Main hall",
//	    HostName:  "Ada",
//	    StartDate: "2026-04-01T18:00:00Z",
//	})
//	switch {
//	case errors.Is(err, passbook.ErrInsufficientCredits):
//	    // ask the user to buy credits
//	case errors.Is(err, passbook.ErrUnauthorized):
//	    // not an organizer of the group
//	}
//
// # Subscriptions
//
// The statuses past_due, canceled and none are inactive: events published
// while a group is inactive are hidden, and a transition into an inactive
// status hides every event created from the expiry onwards. Events hidden
// this way are restored when the subscription becomes active again. Events
// hidden for any other reason are never touched. trialing counts as active
// for visibility but only active may create new groups.
//
// # Stores
//
// Drivers live under store/: memory for tests, sqlite and postgres for
// single-node and shared deployments, and mongo on top of grove.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	usr_01h2xcejqtf2nbrexx3vqjhp41  // User ID
//	grp_01h2xcejqtf2nbrexx3vqjhp41  // Group ID
//	evt_01h455vb4pex5vsknk084sn02q  // Event ID
//	cle_01h455vb4pex5vsknk084sn02q  // Ledger entry ID
package passbook
