package main

import (
	"flag"
	"fmt"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")

	// cliActor is who the admin commands act as.
	cliActor = core.Actor{ID: "admin-cli", Roles: []string{user.RoleAdminOwner}}
)

type commandLine struct {
	db            *sqlx.DB // nil on the in-memory store
	validate      *validator.Validate
	usrSvc        user.Service
	courses       course.Service
	coupons       coupon.Service
	enrollments   enrollment.Service
	notifications notification.Service
	carts         cart.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) on the database")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-name NAME] [-role ROLE]... [-admin] - update or create a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  addcourse -title TITLE [-price CENTS] [-currency CUR] [-instructor ID] [-published] - create a course")
	fmt.Println("  addcoupon -code CODE -name NAME -type percentage|fixed_amount -value VALUE [...] - create a coupon")
	fmt.Println("  resetactivation -enrollment ID - allow a failed enrollment to be activated again")
	fmt.Println("  purgenotifications - delete the expired notifications")
	fmt.Println("  reconcilepayments - fail the pending payments whose outcome was never recorded")
	fmt.Println("  purgecarts - delete the expired carts and the old converted or abandoned ones")
}

// promptPassword reads a password from the terminal; an empty one prints the usage of fs.
func promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

type rolesFlag []string

func (r *rolesFlag) String() string { return strings.Join(*r, ",") }

func (r *rolesFlag) Set(val string) error {
	*r = append(*r, core.CleanString(val, true /* lower */))
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	migrateCmd := flag.NewFlagSet("migrate", flag.ContinueOnError)

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant every role.")
	var addUserRoles rolesFlag
	addUserCmd.Var(&addUserRoles, "role", "A role to grant, e.g. instructor: (repeatable).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	addCourseCmd := flag.NewFlagSet("addcourse", flag.ContinueOnError)
	addCourseTitle := addCourseCmd.String("title", "", "The course title.")
	addCoursePrice := addCourseCmd.Int64("price", 0, "The price in minor units; 0 is free.")
	addCourseCurrency := addCourseCmd.String("currency", "USD", "The ISO currency code.")
	addCourseInstructor := addCourseCmd.String("instructor", "", "The instructor's user ID.")
	addCoursePublished := addCourseCmd.Bool("published", false, "Publish the course.")

	addCouponCmd := flag.NewFlagSet("addcoupon", flag.ContinueOnError)
	addCouponCode := addCouponCmd.String("code", "", "The coupon code.")
	addCouponName := addCouponCmd.String("name", "", "The coupon name.")
	addCouponType := addCouponCmd.String("type", string(coupon.TypePercentage), "percentage or fixed_amount.")
	addCouponValue := addCouponCmd.String("value", "", "Percent off, or minor units off for fixed amounts.")
	addCouponMin := addCouponCmd.Int64("min", 0, "The minimum order amount.")
	addCouponMax := addCouponCmd.Int64("max", 0, "The maximum discount amount; 0 is uncapped.")
	addCouponLimit := addCouponCmd.Int("limit", 0, "The total usage limit; 0 is unlimited.")
	addCouponPerUser := addCouponCmd.Int("per-user", 1, "The usage limit per user.")
	addCouponCourses := addCouponCmd.String("courses", "", "Comma separated course IDs; empty applies to every course.")

	resetActivationCmd := flag.NewFlagSet("resetactivation", flag.ContinueOnError)
	resetActivationID := resetActivationCmd.String("enrollment", "", "The enrollment ID.")

	switch args[1] {
	case "migrate":
		if err := migrateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if migrateCmd.NArg() == 0 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(migrateCmd.Args())

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin, addUserRoles...)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "addcourse":
		if err := addCourseCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addCourseTitle == "" {
			addCourseCmd.Usage()
			return errHelp
		}
		return cli.addCourse(course.NewCourse{
			Title:        *addCourseTitle,
			Price:        *addCoursePrice,
			Currency:     *addCourseCurrency,
			IsPublished:  *addCoursePublished,
			InstructorID: *addCourseInstructor,
		})

	case "addcoupon":
		if err := addCouponCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addCouponCode == "" || *addCouponValue == "" {
			addCouponCmd.Usage()
			return errHelp
		}
		nc := coupon.NewCoupon{
			Code:               *addCouponCode,
			Name:               *addCouponName,
			Type:               coupon.Type(*addCouponType),
			Value:              *addCouponValue,
			MinimumOrderAmount: *addCouponMin,
			UsageLimitPerUser:  *addCouponPerUser,
		}
		if *addCouponMax > 0 {
			nc.MaximumDiscountAmount = addCouponMax
		}
		if *addCouponLimit > 0 {
			nc.UsageLimit = addCouponLimit
		}
		for _, id := range strings.Split(*addCouponCourses, ",") {
			if id = core.CleanString(id, true /* lower */); id != "" {
				nc.CourseIDs = append(nc.CourseIDs, id)
			}
		}
		return cli.addCoupon(nc)

	case "resetactivation":
		if err := resetActivationCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetActivationID == "" {
			resetActivationCmd.Usage()
			return errHelp
		}
		return cli.resetActivation(*resetActivationID)

	case "purgenotifications":
		return cli.purgeNotifications()

	case "reconcilepayments":
		return cli.reconcilePayments()

	case "purgecarts":
		return cli.purgeCarts()

	default:
		cli.printUsage()
		return errHelp
	}
}
