package server

import (
	"io"
	"mime/multipart"

	"marketplace/internal/models"
	"marketplace/internal/service"
	"marketplace/internal/storage"

	"github.com/gofiber/fiber/v2"
)

const maxProductImages = 10

// BrowseProducts handles GET /api/products
func (s *Server) BrowseProducts(c *fiber.Ctx) error {
	products, err := s.products.Browse(c.UserContext(), c.Query("category"), c.Query("q"))
	if err != nil {
		return s.respondWithError(c, err)
	}
	if products == nil {
		products = []*models.Product{}
	}
	return c.JSON(products)
}

// GetCategories handles GET /api/products/categories
func (s *Server) GetCategories(c *fiber.Ctx) error {
	return c.JSON(models.Categories)
}

// GetProduct handles GET /api/products/:id. Views are counted per signed-in
// user, or per X-Viewer-ID for anonymous clients.
func (s *Server) GetProduct(c *fiber.Ctx) error {
	viewer := callerUID(c)
	if viewer == "" {
		if anon := c.Get("X-Viewer-ID"); anon != "" {
			viewer = "anon:" + anon
		}
	}

	detail, err := s.products.Detail(c.UserContext(), viewer, c.Params("id"))
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(detail)
}

// CreateProduct handles POST /api/products as a multipart form with the
// fields title, description, price, category and one or more images.
func (s *Server) CreateProduct(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return s.respondWithError(c, models.NewValidationError("Expected a multipart form"))
	}
	headers := form.File["images"]
	if len(headers) > maxProductImages {
		return s.respondWithError(c, models.NewValidationError("Too many images"))
	}

	files, closeAll, err := openImages(headers)
	defer closeAll()
	if err != nil {
		return s.respondWithError(c, models.NewValidationError("Could not read uploaded image"))
	}

	product, err := s.products.Create(c.UserContext(), service.ProductInput{
		Title:       formValue(form, "title"),
		Description: formValue(form, "description"),
		Price:       formValue(form, "price"),
		Category:    formValue(form, "category"),
		Images:      files,
	})
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func openImages(headers []*multipart.FileHeader) ([]storage.File, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}

	files := make([]storage.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, f)
		files = append(files, storage.File{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Reader:      f,
		})
	}
	return files, closeAll, nil
}
