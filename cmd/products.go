package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banux/nxt-catalog/internal/admin"
	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/media"
	"github.com/banux/nxt-catalog/internal/remote"
	"github.com/banux/nxt-catalog/internal/staging"
	"github.com/banux/nxt-catalog/internal/store"
)

func newProductsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"p"},
		Short:   "Manage catalog products through the API",
		Long: `Lists, shows, creates, updates and deletes products on the catalog API
configured by api_url. Writes send api_token as a bearer credential.`,
	}

	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newShowCmd(a))
	cmd.AddCommand(newCreateCmd(a))
	cmd.AddCommand(newUpdateCmd(a))
	cmd.AddCommand(newDeleteCmd(a))

	return cmd
}

// console returns an admin console on the configured API.
func (a *app) console() *admin.Console {
	opts := []remote.Option{remote.WithToken(a.cfg.APIToken)}
	if a.cfg.RequestTimeout == 0 {
		opts = append(opts, remote.WithHTTPClient(&http.Client{}))
	} else {
		opts = append(opts, remote.WithTimeout(a.cfg.RequestTimeout))
	}
	return admin.New(remote.NewClient(a.cfg.APIURL, opts...), admin.Options{
		Resolver: media.Resolver{FileRoot: a.cfg.ImageRoot()},
		Limits:   staging.Limits{MaxImages: a.cfg.MaxImages, MaxFileSize: a.cfg.MaxImageSize},
		PageSize: a.cfg.PageSize,
		Logger:   a.log,
	})
}

func newListCmd(a *app) *cobra.Command {
	var (
		search, category, status string
		sortField                string
		desc, asJSON             bool
		page, pageSize           int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		Example: `  # Second page of active lamps, most expensive first
  nxt-catalog products list --search lamp --status active --sort price --desc --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.ParseStatus(status)
			if err != nil {
				return err
			}
			dir := store.Asc
			if desc {
				dir = store.Desc
			}

			c := a.console()
			if err := c.Load(cmd.Context()); err != nil {
				return err
			}
			s := c.Store()
			if pageSize > 0 {
				s.SetPageSize(pageSize)
			}
			s.SetSearch(search)
			s.SetCategory(category)
			s.SetStatus(st)
			if sortField != "" {
				if err := s.SetSort(sortField, dir); err != nil {
					return err
				}
			}
			s.SetPage(page)

			views := c.Products()
			if asJSON {
				return writeViews(cmd.OutOrStdout(), views)
			}
			res := s.Page()
			printTable(cmd.OutOrStdout(), views)
			fmt.Fprintf(cmd.OutOrStdout(), "\npage %d/%d, %d products\n", res.Current, res.Pages, res.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Case-insensitive search over title, subtitle, category and description")
	cmd.Flags().StringVar(&category, "category", "", "Only products in this category")
	cmd.Flags().StringVar(&status, "status", "all", "Filter by status (all, active, inactive)")
	cmd.Flags().StringVar(&sortField, "sort", "", "Sort field (title, subtitle, category, price, active, created_at, updated_at)")
	cmd.Flags().BoolVar(&desc, "desc", false, "Sort descending")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Products per page (default: page_size from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		next   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a product and its image gallery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.console()
			if err := c.Load(cmd.Context()); err != nil {
				return err
			}
			view, err := c.Product(args[0])
			if err != nil {
				return err
			}
			for i := 0; i < abs(next); i++ {
				step := 1
				if next < 0 {
					step = -1
				}
				if view, err = c.Cycle(args[0], step); err != nil {
					return err
				}
			}
			if asJSON {
				return writeViews(cmd.OutOrStdout(), []admin.ProductView{view})
			}
			features := media.NormalizeFeatureImages(view.Product, media.Resolver{FileRoot: a.cfg.ImageRoot()}, c.Token())
			printView(cmd.OutOrStdout(), view, features)
			return nil
		},
	}

	cmd.Flags().IntVar(&next, "next", 0, "Advance the featured image this many steps (negative goes back)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

// productFlags are the editable fields shared by create and update.
type productFlags struct {
	title, subtitle, category, description string
	price                                  float64
	active                                 bool
	thumbnail                              string
	add                                    []string
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Product title")
	cmd.Flags().StringVar(&f.subtitle, "subtitle", "", "Subtitle")
	cmd.Flags().StringVar(&f.category, "category", "", "Category")
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
	cmd.Flags().Float64Var(&f.price, "price", 0, "Price")
	cmd.Flags().BoolVar(&f.active, "active", false, "Whether the product is listed")
	cmd.Flags().StringVar(&f.thumbnail, "thumbnail", "", "Path of the thumbnail image to upload")
	cmd.Flags().StringSliceVar(&f.add, "add", nil, "Paths of feature images to upload (repeatable)")
}

// update builds the field update from the flags the user set.
func (f *productFlags) update(cmd *cobra.Command) catalog.ProductUpdate {
	var u catalog.ProductUpdate
	changed := cmd.Flags().Changed
	if changed("title") {
		u.Title = &f.title
	}
	if changed("subtitle") {
		u.Subtitle = &f.subtitle
	}
	if changed("category") {
		u.Category = &f.category
	}
	if changed("description") {
		u.Description = &f.description
	}
	if changed("price") {
		u.Price = &f.price
	}
	if changed("active") {
		u.Active = &f.active
	}
	return u
}

// stage loads the thumbnail and feature files named by the flags into s.
func (f *productFlags) stage(cmd *cobra.Command, s *staging.Session) error {
	if f.thumbnail != "" {
		fh, err := staging.OSFile(f.thumbnail)
		if err != nil {
			return err
		}
		if err := s.StageThumbnail(cmd.Context(), fh); err != nil {
			return err
		}
	}
	if len(f.add) == 0 {
		return nil
	}
	files := make([]staging.FileHandle, 0, len(f.add))
	for _, p := range f.add {
		fh, err := staging.OSFile(p)
		if err != nil {
			return err
		}
		files = append(files, fh)
	}
	return s.StageNewImages(cmd.Context(), files)
}

func newCreateCmd(a *app) *cobra.Command {
	var f productFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		Example: `  nxt-catalog products create --title "Desk lamp" --price 39.90 --active \
    --thumbnail lamp.jpg --add side.jpg --add detail.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.console()
			s := c.OpenCreate()
			if err := f.stage(cmd, s); err != nil {
				return formError(cmd.ErrOrStderr(), s, err)
			}
			p, err := c.Submit(cmd.Context(), f.update(cmd))
			if p == nil {
				return formError(cmd.ErrOrStderr(), s, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", p.ID)
			return err
		},
	}
	f.register(cmd)

	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		f      productFlags
		remove []int
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a product",
		Long: `Updates the given fields of a product. --remove takes the positions of
feature images as numbered by "products show" (0-based, thumbnail excluded).`,
		Example: `  # Drop the first two feature images and add one
  nxt-catalog products update 0190... --remove 0 --remove 1 --add new.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.console()
			if err := c.Load(cmd.Context()); err != nil {
				return err
			}
			s, err := c.OpenEdit(args[0])
			if err != nil {
				return err
			}
			for _, i := range remove {
				if i < 0 || i >= len(s.Existing()) {
					return fmt.Errorf("--remove %d: product has %d feature images", i, len(s.Existing()))
				}
				s.RemoveExisting(i)
			}
			if err := f.stage(cmd, s); err != nil {
				return formError(cmd.ErrOrStderr(), s, err)
			}
			p, err := c.Submit(cmd.Context(), f.update(cmd))
			if p == nil {
				return formError(cmd.ErrOrStderr(), s, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", p.ID)
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().IntSliceVar(&remove, "remove", nil, "Feature image positions to remove (repeatable)")

	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product and its stored images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.console()
			if err := c.Load(cmd.Context()); err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[0]); err != nil {
				var apiErr *remote.APIError
				if errors.As(err, &apiErr) && apiErr.NotFound() {
					return fmt.Errorf("product %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	return cmd
}

// formError prints the per-field messages recorded on s and returns err.
func formError(w io.Writer, s *staging.Session, err error) error {
	fe := s.FieldErrors()
	fields := make([]string, 0, len(fe))
	for k := range fe {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		fmt.Fprintf(w, "  %s: %s\n", k, fe[k])
	}
	return err
}

func printTable(w io.Writer, views []admin.ProductView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tPRICE\tACTIVE\tIMAGES\tFEATURED")
	for _, v := range views {
		p := v.Product
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			p.ID, p.Title, p.Category, strconv.FormatFloat(p.Price, 'f', 2, 64), p.Active, len(v.Gallery), v.FeaturedURL)
	}
	_ = tw.Flush()
}

func printView(w io.Writer, v admin.ProductView, features []string) {
	p := v.Product
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", p.ID)
	fmt.Fprintf(tw, "title\t%s\n", p.Title)
	if p.Subtitle != "" {
		fmt.Fprintf(tw, "subtitle\t%s\n", p.Subtitle)
	}
	fmt.Fprintf(tw, "category\t%s\n", p.Category)
	fmt.Fprintf(tw, "price\t%s\n", strconv.FormatFloat(p.Price, 'f', 2, 64))
	fmt.Fprintf(tw, "active\t%t\n", p.Active)
	if p.Description != "" {
		fmt.Fprintf(tw, "description\t%s\n", p.Description)
	}
	fmt.Fprintf(tw, "updated\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	_ = tw.Flush()

	fmt.Fprintln(w, "\ngallery:")
	for i, u := range v.Gallery {
		marker := " "
		if i == v.Featured {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %s\n", marker, u)
	}

	// Positions here are what update --remove takes.
	fmt.Fprintln(w, "\nfeature images:")
	for i, u := range features {
		fmt.Fprintf(w, "  %d  %s\n", i, u)
	}
}

func writeViews(w io.Writer, views []admin.ProductView) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
