package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/tractionboard/traction-go/api"
	"github.com/tractionboard/traction-go/authtest"
	"github.com/tractionboard/traction-go/internal/config"
	"github.com/tractionboard/traction-go/internal/utils"
	"github.com/tractionboard/traction-go/session"
	"github.com/tractionboard/traction-go/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		usage()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "login":
		return login(ctx, c, log, os.Args[2:])
	case "profile":
		return profile(ctx, c, log)
	case "logout":
		return logout(ctx, c, log)
	case "switch-tenant":
		return switchTenant(ctx, c, log, os.Args[2:])
	case "demo":
		return demo(ctx, log)
	default:
		usage()
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

func usage() {
	fmt.Println("usage: sessionctl <login email password | profile | logout | switch-tenant id name | demo>")
}

func newService(c config.Config, log zerolog.Logger) (*session.Service, error) {
	return session.New(c, session.WithLogger(log))
}

func login(ctx context.Context, c config.Config, log zerolog.Logger, args []string) error {
	if len(args) < 2 {
		return errors.New("login requires email and password")
	}
	svc, err := newService(c, log)
	if err != nil {
		return err
	}
	if err := svc.Login(ctx, args[0], args[1]); err != nil {
		return err
	}
	state := svc.State()
	fmt.Printf("Logged in as %s %s <%s>\n", state.User.FirstName, state.User.LastName, state.User.Email)
	return nil
}

func profile(ctx context.Context, c config.Config, log zerolog.Logger) error {
	svc, err := newService(c, log)
	if err != nil {
		return err
	}
	if err := svc.CheckAuth(ctx); err != nil {
		return err
	}
	state := svc.State()
	if !state.Authenticated() {
		fmt.Println("Not logged in")
		return nil
	}
	tc := svc.TenantContext()
	fmt.Printf("User:   %s %s <%s>\n", state.User.FirstName, state.User.LastName, state.User.Email)
	fmt.Printf("Tenant: %s (%s)", tc.ActiveName, tc.ActiveID)
	if tc.Impersonating {
		fmt.Printf(" [impersonating, original %s]", tc.OriginalID)
	}
	fmt.Println()
	return nil
}

func logout(ctx context.Context, c config.Config, log zerolog.Logger) error {
	svc, err := newService(c, log)
	if err != nil {
		return err
	}
	if err := svc.CheckAuth(ctx); err != nil {
		return err
	}
	svc.Logout(ctx)
	fmt.Println("Logged out")
	return nil
}

func switchTenant(ctx context.Context, c config.Config, log zerolog.Logger, args []string) error {
	if len(args) < 2 {
		return errors.New("switch-tenant requires a tenant id and name")
	}
	svc, err := newService(c, log)
	if err != nil {
		return err
	}
	if err := svc.CheckAuth(ctx); err != nil {
		return err
	}
	if err := svc.SwitchTenant(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Switched to tenant %s\n", args[0])
	return nil
}

// demo runs the whole lifecycle against an in-process stub backend.
func demo(ctx context.Context, log zerolog.Logger) error {
	backend := authtest.NewServer()
	backend.AddUser(users.User{
		ID:               "demo-user",
		Email:            "demo@example.com",
		FirstName:        "Demo",
		LastName:         "Consultant",
		OrganizationID:   "org-demo",
		OrganizationName: "Demo Partners",
		Capabilities:     []users.Capability{users.CapabilityConsultant},
	}, "demo-password")

	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	storePath, err := os.CreateTemp("", "sessionctl-demo-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(storePath.Name())
	storePath.Close()

	os.Setenv("API_BASE_URL", ts.URL)
	os.Setenv("SESSION_STORE_PATH", storePath.Name())

	svc, err := newService(config.New(), log)
	if err != nil {
		return err
	}
	svc.Start(ctx)
	defer svc.Stop()

	if err := svc.Login(ctx, "demo@example.com", "demo-password"); err != nil {
		return err
	}
	fmt.Println("login: ok")

	required, err := svc.CheckLegalAgreements(ctx)
	if err != nil {
		return err
	}
	if required {
		record := api.AgreementRecord{Type: "terms", Version: "2025-01", Accepted: true, AcceptedAt: time.Now()}
		if err := svc.AcceptLegalAgreements(ctx, record); err != nil {
			return err
		}
		fmt.Println("agreements: accepted")
	} else {
		fmt.Println("agreements: up to date")
	}

	if err := svc.UpdateProfile(ctx, api.ProfileUpdate{FirstName: utils.Ptr("Demi")}); err != nil {
		return err
	}
	fmt.Printf("update-profile: ok, now %s\n", svc.State().User.FirstName)

	if err := svc.SwitchTenant("org-client", "Client Org"); err != nil {
		return err
	}
	fmt.Println("switch-tenant: ok")

	if err := svc.CheckAuth(ctx); err != nil {
		return err
	}
	fmt.Printf("impersonated org seen by server: %s\n", backend.LastImpersonatedOrg)

	if err := svc.ReturnToOriginalTenant(); err != nil {
		return err
	}
	fmt.Println("return-to-original: ok")

	svc.Logout(ctx)
	fmt.Println("logout: ok")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
